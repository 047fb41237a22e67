package models

import "github.com/google/uuid"

// ensureID assigns a fresh UUID when the caller did not provide one. Postgres
// also defaults ids with gen_random_uuid(), but assigning in Go keeps the value
// available to the caller right after Create and works on every driver.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
