package domain

import "time"

// FetchRequest asks the transport layer to download an object we only know by oid.
type FetchRequest struct {
	Id          int64
	OriginId    int64
	Oid         string
	ObjectType  ObjectType
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
}
