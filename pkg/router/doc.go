// Package router defines the contracts between the router and the things it
// routes frames to.
//
// There are two kinds of recipient, both keyed by a prefix of their interface
// address:
//   - Client: an in-process endpoint, keyed by the first three fields
//   - Jack: a transport adapter, keyed by the first two fields
//
// A frame of type 'r' is offered to a matching client first and to a matching
// jack second. A frame of type 's' is a receipt and is only logged.
//
// Example usage:
//
//	type printer struct{ addr address.Address }
//
//	func (p *printer) Interface() address.Address { return p.addr }
//
//	func (p *printer) Route(ctx context.Context, f *frame.Frame) error {
//		fmt.Printf("%s\n", f.Content())
//		return nil
//	}
//
// The router implementation lives in internal/router.
package router
