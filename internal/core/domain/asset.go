package domain

import (
	"encoding/json"
	"fmt"
)

// Asset is a scan target. Selector routes the asset to interested agents,
// Payload is the serialized descriptor injected into the scan universe.
type Asset interface {
	fmt.Stringer
	Selector() string
	Payload() ([]byte, error)
}

// DomainName is a domain name target per RFC 1034 and 1035.
type DomainName struct {
	Name string `json:"name"`
}

func (d DomainName) String() string   { return d.Name }
func (d DomainName) Selector() string { return "v3.asset.dns.a_record" }

func (d DomainName) Payload() ([]byte, error) {
	return json.Marshal(d)
}

// IPv4 is an IPv4 address target.
type IPv4 struct {
	Host string `json:"host"`
}

func (i IPv4) String() string   { return i.Host }
func (i IPv4) Selector() string { return "v3.asset.ip.v4" }

func (i IPv4) Payload() ([]byte, error) {
	return json.Marshal(i)
}
