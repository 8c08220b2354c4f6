// Package device is the actuator side of the stabilizer link.
//
// Two tasks run on the device: the CommandLoop reads command lines,
// drives the PWM Actuator and reports what it did, and the Renderer
// shows those reports on a Display. The only state they share is a
// single-slot Mailbox holding the latest Status.
package device
