// Package remote implements the engine's remote call interface over HTTP.
//
// Each operation maps to one request: the path segments are joined under
// the base URL and the method picks the verb (POST, PUT, PATCH, DELETE).
// Bodies are JSON. Numbers in responses decode as json.Number so server ids
// keep their exact decimal form.
//
// Every failure is returned as a *CallError. The engine retries network
// failures and server rejections alike; the Kind exists for logging and for
// the watcher's connectivity probe.
package remote
