package client

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
	"github.com/tidemark-io/tidemark-edge/internal/property"
)

// HandleServerMessage routes one value the realm pushed to a
// server-owned interface. Property values are persisted locally so the
// latest state survives restarts; a zero-length payload clears the
// stored value. Datastream values are decoded and handed to the
// OnServerData callback.
//
// Values arriving for interfaces the device no longer declares resolve
// to ErrInterfaceNotFound and are dropped by the caller.
func (c *Client) HandleServerMessage(ctx context.Context, interfaceName, path string, data []byte) error {
	resolved, err := c.registry.Resolve(interfaceName, path)
	if err != nil {
		return err
	}
	if resolved.Ownership != interfaces.OwnershipServer {
		return fmt.Errorf("%w: %s is not server-owned", interfaces.ErrTypeMismatch, interfaceName)
	}

	if resolved.InterfaceType == interfaces.TypeProperties {
		if len(data) == 0 {
			c.logger.Debug("server property unset",
				"interface", interfaceName, "path", path, "session", c.sessionID)
			return c.props.Unset(ctx, interfaceName, path)
		}
		// Decode to reject garbage before it lands in the store; the
		// stored form stays the encoded bytes.
		if _, err := c.codec.Decode(data); err != nil {
			return err
		}
		return c.props.Upsert(ctx, property.Property{
			InterfaceName:  interfaceName,
			Path:           path,
			Payload:        data,
			InterfaceMajor: resolved.MajorVersion,
			Ownership:      interfaces.OwnershipServer,
		})
	}

	env, err := c.codec.Decode(data)
	if err != nil {
		return err
	}
	if c.onServerData != nil {
		c.onServerData(resolved, env)
	}
	c.logger.Debug("server datastream value received",
		"interface", interfaceName, "path", path, "session", c.sessionID)
	return nil
}

// HandlePurgeProperties reconciles the local property cache against
// the realm's session-start snapshot: every stored property absent
// from the snapshot is deleted, whichever side owns it.
func (c *Client) HandlePurgeProperties(ctx context.Context, data []byte) error {
	keep, err := decodePropertySet(data)
	if err != nil {
		return fmt.Errorf("decoding property snapshot: %w", err)
	}

	deleted := 0
	for _, ownership := range []interfaces.Ownership{interfaces.OwnershipDevice, interfaces.OwnershipServer} {
		stored, err := c.props.ListByOwnership(ctx, ownership)
		if err != nil {
			return err
		}
		for _, p := range stored {
			if _, ok := keep[p.InterfaceName+p.Path]; ok {
				continue
			}
			if err := c.props.Delete(ctx, p.InterfaceName, p.Path); err != nil {
				return err
			}
			deleted++
		}
	}
	if deleted > 0 {
		c.logger.Info("purged properties absent from session snapshot",
			"count", deleted, "session", c.sessionID)
	}
	return nil
}

// decodePropertySet unpacks the purge-properties payload: a big-endian
// uint32 uncompressed size, then the zlib-compressed
// semicolon-separated list of interface/path entries.
func decodePropertySet(data []byte) (map[string]struct{}, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("snapshot header truncated: %d bytes", len(data))
	}
	size := binary.BigEndian.Uint32(data[:4])

	zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, fmt.Errorf("opening compressed snapshot: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read errors surface below

	raw, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("inflating snapshot: %w", err)
	}
	if uint32(len(raw)) != size { //nolint:gosec // bounded by LimitReader
		return nil, fmt.Errorf("snapshot size mismatch: header says %d, got %d", size, len(raw))
	}

	set := make(map[string]struct{})
	for _, entry := range strings.Split(string(raw), ";") {
		if entry != "" {
			set[entry] = struct{}{}
		}
	}
	return set, nil
}
