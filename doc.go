// Package telempipe is a single-process telemetry collection-and-delivery
// pipeline: it runs many short-lived producer tasks under bounded concurrency,
// accumulates their output into batches, and ships those batches to a remote
// ingestion endpoint while tolerating transient and sustained failures.
//
// # Architecture
//
// The pipeline is composed of four layers, leaves first:
//
//   - worker: a generic bounded worker pool with per-task timeout, linear
//     backoff retry, and graceful shutdown, plus two thin specializations for
//     batch collection (DataCollectionPool) and named synthetic generation
//     (SimulationPool).
//   - stream: a dual-buffer (event/metric) batching orchestrator that guards
//     every delivery to the network sink behind a three-state circuit breaker.
//     Failed batches are returned to the head of their buffer, so records are
//     never dropped or reordered, only deferred.
//   - mode: a finite-state controller over the three data-acquisition modes
//     (simulation, infrastructure, hybrid), each backed by a registered handler
//     with a start/stop/status lifecycle. Mode switches are single-flight and
//     atomic from the caller's perspective.
//   - platform: the composition root. It wires the mode controller, the
//     streaming orchestrator, and the external producer collaborators
//     (discovery, transform, enrichment) into one data flow and exposes
//     start/stop/switch/status/shutdown.
//
// Shared infrastructure lives in component (lifecycle contract), errors
// (classified error handling), event (observer notifications with optional
// NATS mirroring), metric (Prometheus registry), health (status aggregation),
// and pkg/ (buffer, retry).
//
// # Data Flow
//
//	producer (discovery result or synthetic generator)
//	    -> worker pool collection/generation
//	    -> transform / enrichment collaborators
//	    -> stream orchestrator buffer
//	    -> batched delivery to the sink
//
// The pipeline is in-memory only: a process crash loses buffered records.
// There is no distributed coordination and no durability layer.
package telempipe
