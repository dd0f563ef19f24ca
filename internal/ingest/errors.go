package ingest

import "errors"

var (
	ErrNoArgs             = errors.New("ingest: entry has no exec/load argument")
	ErrStartupCheckFailed = errors.New("ingest: a startup check failed")
	ErrDataNotMap         = errors.New("ingest: pulled value's \"data\" key is not a map")
	ErrNoDataKey          = errors.New("ingest: pulled value has no \"data\" key")
	ErrRebuildAborted     = errors.New("ingest: full rebuild aborted, one or more entries failed to load")
)
