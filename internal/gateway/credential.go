// Package gateway accepts socket connections, resolves the connecting
// principal once per connection, and manages room membership. It is the
// only component that touches live sockets; everything else addresses
// them through rooms.
package gateway

// PrincipalKind distinguishes the two authenticated connection types
// plus the anonymous read-only fallback.
type PrincipalKind int

const (
	KindAnonymous PrincipalKind = iota
	KindUser
	KindDevice
)

func (k PrincipalKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindDevice:
		return "device"
	default:
		return "anonymous"
	}
}

// Principal is the resolved identity of a connection. ID is a user id
// for user principals and a device serial for device principals.
type Principal struct {
	Kind PrincipalKind
	ID   string
}

// credentialClass is the syntactic shape of a handshake credential.
type credentialClass int

const (
	credentialNone credentialClass = iota
	credentialDeviceSerial
	credentialUserToken
)

// deviceSerialThreshold separates device serials from session tokens by
// length. Serials are 9 characters ("xxxx-xxxx"), session tokens 40+.
// The threshold is inherited behavior, not a validated protocol: if the
// token format ever changes, replace this heuristic with an explicit
// credential-type prefix. All classification goes through this one
// function so that swap touches nothing else.
const deviceSerialThreshold = 16

func classifyCredential(token string) credentialClass {
	switch {
	case token == "":
		return credentialNone
	case len(token) < deviceSerialThreshold:
		return credentialDeviceSerial
	default:
		return credentialUserToken
	}
}
