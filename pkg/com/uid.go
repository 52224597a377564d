package com

import "github.com/rs/xid"

// Uid identifies a connection in the logs and in the hub.
type Uid struct{ xid.ID }

func NewUid() Uid { return Uid{xid.New()} }

// Short is the first and the last three chars of the id.
func (u Uid) Short() string {
	s := u.String()
	return s[:3] + "." + s[len(s)-3:]
}
