package repository

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/interfaces"
)

var (
	// ErrConflict means the stored fact set changed since it was read
	ErrConflict = goerr.New("fact set version conflict")
	// ErrUnavailable means the backing store could not be reached
	ErrUnavailable = goerr.New("fact store unavailable")
)

var (
	_ interfaces.Repository = &Memory{}
	_ interfaces.Repository = &Firestore{}
	_ interfaces.Repository = &SQL{}
	_ interfaces.Repository = &ObjectStore{}
)
