// Package keypad turns a 4x3 matrix keypad on an I/O expander into dialed
// numbers.
//
// Three pieces cooperate:
//
//   - Scanner polls the expander and returns at most one debounced key per call.
//   - Accumulator collects digits and reports a number on '*' or after an
//     inactivity timeout, or a cancellation on '#'.
//   - Loop drives the Scanner at a fixed idle interval and feeds the Accumulator.
//
// A ScanLock shared with the door actuator suppresses ordinary keys while
// the door is held open. '#' is never suppressed so a visitor can always
// cancel.
//
// Accumulator callbacks run synchronously while the accumulator mutex is
// held. They must not call back into the same Accumulator.
package keypad
