// Package domain holds the saga state exchanged between the workflow coordinator,
// the dispatch tasks and the completion processors.
//
// A DataAssetTask is created when the hub starts a saga, persisted in the task
// context store after every step, and carried across the hub/spoke boundary by
// signed reference only.
package domain
