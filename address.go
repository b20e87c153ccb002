package dbus

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/corebus/dbus/transport"
)

const defaultSystemBusAddress = "unix:path=/run/dbus/system_bus_socket"

// address is one semicolon-separated element of a DBus address list,
// e.g. "unix:path=/run/dbus/system_bus_socket" or
// "tcp:host=localhost,port=1234".
type address struct {
	transport string
	params    map[string]string
}

// parseAddressList splits a DBus address string (as found in
// DBUS_SESSION_BUS_ADDRESS, or the hardcoded system bus default) into
// its semicolon-separated candidates, in order of preference.
func parseAddressList(s string) ([]address, error) {
	var ret []address
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		a, err := parseAddress(part)
		if err != nil {
			return nil, err
		}
		ret = append(ret, a)
	}
	if len(ret) == 0 {
		return nil, connErr(KindConfiguration, fmt.Errorf("empty DBus address list"))
	}
	return ret, nil
}

func parseAddress(s string) (address, error) {
	transportName, rest, ok := strings.Cut(s, ":")
	if !ok {
		return address{}, connErr(KindConfiguration, fmt.Errorf("invalid DBus address %q: missing transport prefix", s))
	}

	params := map[string]string{}
	for _, kv := range strings.Split(rest, ",") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return address{}, connErr(KindConfiguration, fmt.Errorf("invalid DBus address %q: malformed parameter %q", s, kv))
		}
		unescaped, err := url.PathUnescape(v)
		if err != nil {
			return address{}, connErr(KindConfiguration, fmt.Errorf("invalid DBus address %q: %w", s, err))
		}
		params[k] = unescaped
	}

	return address{transport: transportName, params: params}, nil
}

// dial connects to the first address in the list whose transport is
// supported and whose dial attempt succeeds.
func dial(ctx context.Context, addrs []address) (transport.Transport, error) {
	var errs []error
	for _, a := range addrs {
		t, err := a.dial(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.transport, err))
			continue
		}
		return t, nil
	}
	return nil, fmt.Errorf("could not connect to any candidate DBus address: %w", joinErrs(errs))
}

func (a address) dial(ctx context.Context) (transport.Transport, error) {
	switch a.transport {
	case "unix":
		path, ok := a.params["path"]
		if !ok {
			path, ok = a.params["abstract"]
			if ok {
				return nil, connErr(KindConfiguration, fmt.Errorf("abstract unix sockets are not supported"))
			}
			return nil, connErr(KindConfiguration, fmt.Errorf("unix address missing path parameter"))
		}
		return transport.DialUnix(ctx, path)
	case "tcp":
		host, ok := a.params["host"]
		if !ok {
			host = "localhost"
		}
		port, ok := a.params["port"]
		if !ok {
			return nil, connErr(KindConfiguration, fmt.Errorf("tcp address missing port parameter"))
		}
		return transport.DialTCP(ctx, host+":"+port)
	default:
		return nil, connErr(KindConfiguration, fmt.Errorf("unsupported transport %q", a.transport))
	}
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no addresses to try")
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
