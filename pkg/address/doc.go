// Package address provides the structured destination address used by the router.
//
// An Address is an ordered list of fields with a fixed interpretation:
//
//	["tcp", ["127.0.0.1", 9000], "alice"]
//	  |      |                    |
//	  |      |                    +-- client name (optional)
//	  |      +----------------------- transport location
//	  +------------------------------ transport kind
//
// The first two fields (JackPrefixLen) select a jack; the first three
// (ClientPrefixLen) select a client on that jack. Addresses travel on the wire
// as JSON arrays and are compared by their canonical JSON form (Key), which makes
// them usable as map keys after nested lists have been normalized.
//
// Example usage:
//
//	addr, err := address.Parse([]byte(`["tcp",["10.0.0.2",9000],"bob"]`))
//	if err != nil {
//		return err
//	}
//	jackKey := addr.Prefix(address.JackPrefixLen).Key()
package address
