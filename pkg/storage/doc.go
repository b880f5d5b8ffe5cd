// Package storage provides the client record type and the ClientStore
// interface implemented by the storage adapters (memory, postgres, sqlite),
// together with shared sentinel errors and instance context helpers.
package storage
