// Package emulator is an in-process fake of the finance REST API.
//
// It serves the same routes the sync engine calls:
//
//	POST   /main/{kind}        create, assigns the next numeric id
//	GET    /main/{kind}        list
//	GET    /main/{kind}/{id}   read
//	PUT    /main/{kind}/{id}   full replace
//	PATCH  /main/{kind}/{id}   partial update
//	DELETE /main/{kind}/{id}   delete (idempotent)
//	HEAD   /                   connectivity probe
//
// Records live in a store.KV, so an emulator backed by a bolt file keeps its
// data and id counters across restarts. Amounts are normalized to two
// decimal places the way a real ledger would return them. FailNext injects
// server failures for retry testing.
package emulator
