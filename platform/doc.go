// Package platform composes the pipeline: the mode controller, the
// streaming layer, and the externally supplied producer collaborators.
//
// The Orchestrator owns no business logic. It builds the components from
// configuration, hands each mode handler an emit path into the streaming
// buffers, and exposes start/stop/switch/status/shutdown over the whole. In
// infrastructure mode, discovery results flow through the transform
// collaborator and a bounded collection pool; in simulation mode, scenario
// generators flow through a simulation pool and the enrichment
// collaborator; hybrid runs both, split by advisory weight hints.
package platform
