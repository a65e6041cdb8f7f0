// Package crawler defines the crawler job domain: the persisted record, its
// validated configuration model, lifecycle statuses, the seed-address message,
// and the collaborator interfaces (repository, publisher, clock, ids) that the
// lifecycle service depends on.
package crawler
