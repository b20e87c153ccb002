package dbus

import (
	"context"
	"time"
)

const (
	ifaceBus   = "org.freedesktop.DBus"
	ifaceProps = "org.freedesktop.DBus.Properties"

	// defaultCallTimeout is the deadline applied to a method call that
	// doesn't specify one explicitly, via [WithTimeout].
	defaultCallTimeout = 30 * time.Second
)

// Request describes an outgoing DBus method call, in terms a caller
// builds once and hands to [Conn.Call].
type Request struct {
	// Destination is the bus name of the peer to call.
	Destination string
	// Path is the target object.
	Path ObjectPath
	// Interface is the interface that defines Method.
	Interface string
	// Method is the method name to invoke.
	Method string
	// Body is the call's request body. May be nil for methods that
	// take no arguments.
	Body any
}

// callOptions collects the effect of a chain of [CallOption] values.
type callOptions struct {
	timeout time.Duration
	noReply bool
}

// CallOption customizes the behavior of a single method call.
type CallOption func(*callOptions)

// WithTimeout overrides the default per-call deadline for one method
// call. A zero or negative d disables the deadline entirely.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithNoReply tells the peer not to send a reply to this call. The
// call returns as soon as the request has been written to the
// transport.
func WithNoReply() CallOption {
	return func(o *callOptions) {
		o.noReply = true
	}
}

func resolveCallOptions(opts []CallOption) callOptions {
	ret := callOptions{timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(&ret)
	}
	return ret
}

// Call invokes req and decodes the response into response, which may
// be nil if the method returns no values or the caller doesn't care
// about the result.
func (c *Conn) Call(ctx context.Context, req Request, response any, opts ...CallOption) error {
	o := resolveCallOptions(opts)

	if !o.noReply && o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	return c.call(ctx, req.Destination, req.Path, req.Interface, req.Method, req.Body, response, o.noReply)
}

// call invokes method on the interface with the given request body,
// and writes the response into response.
//
// This is a convenience over [Conn.Call] for interfaces that already
// know their destination, path and interface name.
func (f Interface) call(ctx context.Context, method string, body any, response any, opts ...CallOption) error {
	return f.Conn().Call(ctx, Request{
		Destination: f.Peer().Name(),
		Path:        f.Object().Path(),
		Interface:   f.Name(),
		Method:      method,
		Body:        body,
	}, response, opts...)
}

// Call invokes method in interface "org.freedesktop.DBus" on o,
// writing the response into response.
func (o Object) Call(ctx context.Context, method string, body any, response any, opts ...CallOption) error {
	return o.Interface(ifaceBus).call(ctx, method, body, response, opts...)
}

// GetProperty reads a property of interface "org.freedesktop.DBus"
// on o into val.
func (o Object) GetProperty(ctx context.Context, name string, val any, opts ...CallOption) error {
	return o.Interface(ifaceBus).GetProperty(ctx, name, val, opts...)
}
