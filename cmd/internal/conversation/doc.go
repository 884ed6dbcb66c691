// Package conversation implements direct threads, groups and channelized
// spaces on one append, receipt and retention model.
//
// Every send validates membership and the body, stamps the message under the
// store lock so append order follows timestamp order, and fans the entry out
// to the current members through the returned outbox.Outcome.
package conversation
