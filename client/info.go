package client

import "github.com/google/uuid"

var runID uuid.UUID

func ID() uuid.UUID {
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	return runID
}
