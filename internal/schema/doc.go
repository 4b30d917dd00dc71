// Package schema validates entity payloads against embedded CUE definitions.
//
// Each entity kind has a closed definition. CREATE and REPLACE_FULL payloads
// must carry the kind's required fields; REPLACE_PARTIAL payloads may carry
// any subset. DELETE carries no payload and always validates.
package schema
