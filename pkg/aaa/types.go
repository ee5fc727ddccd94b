// Package aaa provides typed access to the RADIUS relational schema
// (radcheck, radreply, radusergroup, radgroupreply, radacct, radpostauth).
// The schema is an external contract shared with the RADIUS front end and
// must not be redesigned here. The package carries no business logic.
package aaa

import "time"

// Well-known attribute names used by the sync engine and the auth service.
const (
	AttrCleartextPassword = "Cleartext-Password"
	AttrMD5Password       = "MD5-Password"
	AttrCallingStationID  = "Calling-Station-Id"
	AttrFramedIPAddress   = "Framed-IP-Address"
	AttrRateLimit         = "Mikrotik-Rate-Limit"
	AttrAddressList       = "Mikrotik-Address-List"
	AttrRedirectURL       = "WISPr-Redirection-URL"
)

// OpSet is the := operator: the attribute is set, replacing any other value.
const OpSet = ":="

// CheckAttribute is a radcheck row.
type CheckAttribute struct {
	Username  string
	Attribute string
	Op        string
	Value     string
}

// ReplyAttribute is a radreply row.
type ReplyAttribute struct {
	Username  string
	Attribute string
	Op        string
	Value     string
}

// UserGroup is a radusergroup row. Membership is a single current value per
// username, enforced by upsert.
type UserGroup struct {
	Username  string
	GroupName string
	Priority  int
}

// Session is a radacct row. A nil StopTime means the session is open, which
// is the single source of truth for "currently online".
type Session struct {
	RadAcctID      int64
	AcctSessionID  string
	Username       string
	NASIPAddress   string
	FramedIP       string
	StartTime      time.Time
	StopTime       *time.Time
	TerminateCause string
}

// PostAuth is a radpostauth audit row.
type PostAuth struct {
	Username  string
	Reply     string // Access-Accept or Access-Reject
	Reason    string // raw rejection detail, empty on accept
	CreatedAt time.Time
}

const (
	ReplyAccept = "Access-Accept"
	ReplyReject = "Access-Reject"
)
