// Package contracts provides the core types shared by the delivery engine:
//   - Message: a unit of outbound communication with a delivery class
//   - DeliveryClass: the reliability tier requested for a message (QoS 0/1/2)
//   - Outcome: the result of one transport attempt
//   - DeadLetterEntry: a persisted message plus the reason it was parked
//
// Message IDs are monotonically increasing per boot and reset on power cycle.
// This reset is a documented, accepted property of the engine, not a defect:
// duplicate suppression is the broker's responsibility.
package contracts
