package gree

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gree-bridge/internal/device"
)

// DeviceStore is the registry surface the communicator needs.
// Implemented by device.Registry and mocked in tests.
type DeviceStore interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	List(ctx context.Context) ([]device.Device, error)
	Upsert(ctx context.Context, d *device.Device) error
	SetBinding(ctx context.Context, id string, state device.BindState, sessionKey string, useGCM bool) error
	MarkSeen(ctx context.Context, id string) error
	UpdateParams(id string, params device.Params) error
}

var _ DeviceStore = (*device.Registry)(nil)

// Communicator implements the device protocol operations: discovery,
// binding, status polling and command delivery.
//
// Access to each device is serialised with a per-device lock so a poll
// and a command never interleave their request/response pairs on the
// same unit.
type Communicator struct {
	transport Transport
	store     DeviceStore
	converter *Converter
	logger    Logger

	network   []string
	broadcast string
	syncTime  bool
	tracking  []string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// CommunicatorOptions configures a Communicator.
type CommunicatorOptions struct {
	// Transport exchanges datagrams with devices. Required.
	Transport Transport

	// Store persists device identity and bind material. Required.
	Store DeviceStore

	// Network is the list of device addresses to scan directly.
	Network []string

	// Broadcast is the subnet broadcast address for discovery.
	Broadcast string

	// SyncTime pushes the host clock to each device after bind.
	SyncTime bool

	// TrackingParams is the parameter set requested on status polls.
	TrackingParams []string

	// Logger is optional.
	Logger Logger
}

// NewCommunicator creates a communicator.
func NewCommunicator(opts CommunicatorOptions) (*Communicator, error) {
	if opts.Transport == nil {
		return nil, errors.New("gree: transport is required")
	}
	if opts.Store == nil {
		return nil, errors.New("gree: device store is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Communicator{
		transport: opts.Transport,
		store:     opts.Store,
		converter: NewConverter(),
		logger:    opts.Logger,
		network:   opts.Network,
		broadcast: opts.Broadcast,
		syncTime:  opts.SyncTime,
		tracking:  opts.TrackingParams,
	}, nil
}

// Converter returns the parameter converter in use.
func (c *Communicator) Converter() *Converter { return c.converter }

// Discover probes the network for devices and registers every responder.
//
// Configured addresses are scanned directly; if a broadcast address is
// configured the subnet is probed as well. Discovery never touches bind
// material, so re-discovering a known device at a new IP keeps its
// session key.
func (c *Communicator) Discover(ctx context.Context, timeout time.Duration) ([]string, error) {
	seen := make(map[string]bool)
	var found []string

	for _, addr := range c.network {
		id, err := c.scanAddress(ctx, addr)
		if err != nil {
			c.logger.Warn("direct scan failed", "addr", addr, "error", err)
			continue
		}
		if !seen[id] {
			seen[id] = true
			found = append(found, id)
		}
	}

	if c.broadcast != "" {
		results, err := c.transport.BroadcastScan(ctx, c.broadcast, timeout)
		if err != nil {
			return found, fmt.Errorf("broadcast scan: %w", err)
		}
		for result := range results {
			id, err := c.registerScanResponse(ctx, result.Addr.IP.String(), result.Addr.Port, result.Data)
			if err != nil {
				c.logger.Debug("ignoring scan response", "addr", result.Addr, "error", err)
				continue
			}
			if !seen[id] {
				seen[id] = true
				found = append(found, id)
			}
		}
	}

	return found, nil
}

// scanAddress probes a single device address.
func (c *Communicator) scanAddress(ctx context.Context, addr string) (string, error) {
	reply, err := c.transport.Exchange(ctx, addr, ScanRequest())
	if err != nil {
		return "", err
	}

	host := addr
	port := 0
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return c.registerScanResponse(ctx, host, port, reply)
}

// registerScanResponse decodes a scan response and upserts the device.
// The envelope pack may be encrypted with either handshake key; both
// are tried so V2 firmware is detected during discovery.
func (c *Communicator) registerScanResponse(ctx context.Context, ip string, port int, data []byte) (string, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", err
	}
	if env.Pack == "" {
		return "", fmt.Errorf("%w: scan response has no pack", ErrProtocol)
	}

	dev, useGCM, err := c.decodeScanPack(env)
	if err != nil {
		return "", err
	}
	if dev.MAC == "" {
		return "", fmt.Errorf("%w: scan response has no mac", ErrProtocol)
	}

	id := normalizeDeviceID(dev.MAC)
	d := &device.Device{
		ID:     id,
		Name:   dev.Name,
		IP:     ip,
		Port:   port,
		UseGCM: useGCM,
	}
	if err := c.store.Upsert(ctx, d); err != nil {
		return "", fmt.Errorf("registering device %s: %w", id, err)
	}
	if err := c.store.MarkSeen(ctx, id); err != nil {
		c.logger.Debug("mark seen failed", "device", id, "error", err)
	}

	c.logger.Info("device discovered", "device", id, "ip", ip, "name", dev.Name, "gcm", useGCM)
	return id, nil
}

// decodeScanPack opens a scan response pack, detecting the firmware's
// cipher variant from which handshake key succeeds.
func (c *Communicator) decodeScanPack(env Envelope) (DevPayload, bool, error) {
	for _, useGCM := range []bool{env.Tag != "", env.Tag == ""} {
		codec := CodecFor(useGCM)
		plaintext, err := codec.Decrypt(codec.HandshakeKey(), env.Pack, env.Tag)
		if err != nil {
			continue
		}
		payload, err := DecodePayload(plaintext)
		if err != nil {
			continue
		}
		if dev, ok := payload.(DevPayload); ok {
			return dev, useGCM, nil
		}
	}
	return DevPayload{}, false, fmt.Errorf("%w: scan pack did not decrypt with either handshake key", ErrCrypto)
}

// Bind negotiates a session key with a device.
//
// The device is marked BINDING for the duration of the handshake and
// reverted to UNBOUND on any failure, so a crash mid-bind never leaves
// a device stuck. ECB devices that stay silent are retried with the
// GCM handshake, which catches V2 firmware misdetected during scan.
func (c *Communicator) Bind(ctx context.Context, deviceID string) error {
	unlock := c.lockDevice(deviceID)
	defer unlock()

	d, err := c.store.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	if err := c.store.SetBinding(ctx, deviceID, device.BindStateBinding, "", d.UseGCM); err != nil {
		return fmt.Errorf("marking binding: %w", err)
	}

	key, useGCM, err := c.bindExchange(ctx, d, d.UseGCM)
	if err != nil && !d.UseGCM && errors.Is(err, ErrDeviceUnreachable) {
		c.logger.Info("bind timed out, retrying with gcm handshake", "device", deviceID)
		key, useGCM, err = c.bindExchange(ctx, d, true)
	}
	if err != nil {
		if revertErr := c.store.SetBinding(ctx, deviceID, device.BindStateUnbound, "", d.UseGCM); revertErr != nil {
			c.logger.Error("reverting bind state failed", "device", deviceID, "error", revertErr)
		}
		return err
	}

	if err := c.store.SetBinding(ctx, deviceID, device.BindStateBound, key, useGCM); err != nil {
		return fmt.Errorf("storing session key: %w", err)
	}
	c.logger.Info("device bound", "device", deviceID, "gcm", useGCM)

	if c.syncTime {
		if err := c.syncTimeLocked(ctx, deviceID); err != nil {
			c.logger.Warn("time sync failed", "device", deviceID, "error", err)
		}
	}
	return nil
}

// bindExchange runs one bind handshake with the chosen cipher variant.
func (c *Communicator) bindExchange(ctx context.Context, d *device.Device, useGCM bool) (string, bool, error) {
	codec := CodecFor(useGCM)

	request, err := c.sealRequest(codec, codec.HandshakeKey(), d.ID, SeqHandshake, NewBindPayload(d.ID))
	if err != nil {
		return "", false, err
	}

	reply, err := c.transport.Exchange(ctx, d.Addr(), request)
	if err != nil {
		return "", false, err
	}

	plaintext, err := c.openReply(codec, codec.HandshakeKey(), reply)
	if err != nil {
		return "", false, err
	}

	decoded, err := DecodePayload(plaintext)
	if err != nil {
		return "", false, err
	}
	bindok, ok := decoded.(BindOKPayload)
	if !ok {
		return "", false, fmt.Errorf("%w: unexpected reply to bind", ErrBindFailed)
	}
	if bindok.Key == "" {
		return "", false, fmt.Errorf("%w: bindok carried no key", ErrBindFailed)
	}
	return bindok.Key, useGCM, nil
}

// FetchStatus polls a device for its tracked parameters. The converted
// parameter map is cached on the registry and returned.
func (c *Communicator) FetchStatus(ctx context.Context, deviceID string) (map[string]any, error) {
	unlock := c.lockDevice(deviceID)
	defer unlock()

	d, err := c.boundDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	cols := c.tracking
	if len(cols) == 0 {
		cols = defaultTrackingParams
	}

	plaintext, err := c.sessionExchange(ctx, d, NewStatusPayload(d.ID, cols))
	if err != nil {
		return nil, err
	}

	decoded, err := DecodePayload(plaintext)
	if err != nil {
		return nil, err
	}
	dat, ok := decoded.(DataPayload)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply to status", ErrProtocol)
	}

	raw, err := dat.ParamMap()
	if err != nil {
		return nil, err
	}
	params := c.converter.ConvertParams(raw)

	if err := c.store.UpdateParams(d.ID, params); err != nil {
		c.logger.Debug("caching params failed", "device", d.ID, "error", err)
	}
	if err := c.store.MarkSeen(ctx, d.ID); err != nil {
		c.logger.Debug("mark seen failed", "device", d.ID, "error", err)
	}
	return params, nil
}

// SendCommand sets parameter values on a device.
//
// Symbolic values are converted to the wire encoding before sending.
// The returned map contains the values the device acknowledged, which
// win over what was requested, and is merged into the registry cache.
func (c *Communicator) SendCommand(ctx context.Context, deviceID string, params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrProtocol)
	}

	unlock := c.lockDevice(deviceID)
	defer unlock()

	d, err := c.boundDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	opt := make([]string, 0, len(params))
	p := make([]any, 0, len(params))
	for name, value := range params {
		wire, err := c.converter.ToDevice(name, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		opt = append(opt, name)
		p = append(p, wire)
	}

	plaintext, err := c.sessionExchange(ctx, d, NewCommandPayload(opt, p))
	if err != nil {
		return nil, err
	}

	decoded, err := DecodePayload(plaintext)
	if err != nil {
		return nil, err
	}
	res, ok := decoded.(ResultPayload)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply to command", ErrProtocol)
	}

	acked, err := res.AckMap()
	if err != nil {
		return nil, err
	}
	converted := c.converter.ConvertParams(acked)

	if err := c.store.UpdateParams(d.ID, converted); err != nil {
		c.logger.Debug("caching params failed", "device", d.ID, "error", err)
	}
	if err := c.store.MarkSeen(ctx, d.ID); err != nil {
		c.logger.Debug("mark seen failed", "device", d.ID, "error", err)
	}
	return converted, nil
}

// SyncTime pushes the host clock to a device. Units lose their clock on
// power cuts, which breaks their onboard timers.
func (c *Communicator) SyncTime(ctx context.Context, deviceID string) error {
	unlock := c.lockDevice(deviceID)
	defer unlock()
	return c.syncTimeLocked(ctx, deviceID)
}

// syncTimeLocked runs the time sync with the device lock already held.
func (c *Communicator) syncTimeLocked(ctx context.Context, deviceID string) error {
	d, err := c.boundDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	plaintext, err := c.sessionExchange(ctx, d, NewCommandPayload([]string{"time"}, []any{now}))
	if err != nil {
		return err
	}
	if _, err := DecodePayload(plaintext); err != nil {
		return err
	}
	c.logger.Debug("time synced", "device", deviceID)
	return nil
}

// boundDevice loads a device and checks it holds a session key.
func (c *Communicator) boundDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	d, err := c.store.Get(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if !d.IsBound() {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, deviceID)
	}
	return d, nil
}

// sessionExchange seals a payload with the device's session key, runs
// the exchange and opens the reply pack.
func (c *Communicator) sessionExchange(ctx context.Context, d *device.Device, payload any) ([]byte, error) {
	codec := CodecFor(d.UseGCM)

	request, err := c.sealRequest(codec, d.SessionKey, d.ID, SeqSession, payload)
	if err != nil {
		return nil, err
	}

	reply, err := c.transport.Exchange(ctx, d.Addr(), request)
	if err != nil {
		return nil, err
	}
	return c.openReply(codec, d.SessionKey, reply)
}

// sealRequest encodes and encrypts a payload into a wire-ready envelope.
func (c *Communicator) sealRequest(codec Codec, key, deviceID string, seq int, payload any) ([]byte, error) {
	plain, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	pack, tag, err := codec.Encrypt(key, plain)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(NewPackEnvelope(deviceID, seq, pack, tag))
}

// openReply decodes a received envelope and decrypts its pack.
func (c *Communicator) openReply(codec Codec, key string, data []byte) ([]byte, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Pack == "" {
		return nil, fmt.Errorf("%w: reply has no pack", ErrProtocol)
	}
	return codec.Decrypt(key, env.Pack, env.Tag)
}

// lockDevice serialises protocol exchanges per device.
func (c *Communicator) lockDevice(deviceID string) func() {
	c.locksMu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := c.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[deviceID] = lock
	}
	c.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// normalizeDeviceID lowercases a MAC and strips separators so the same
// unit always maps to one registry row.
func normalizeDeviceID(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	return strings.ReplaceAll(mac, "-", "")
}

// defaultTrackingParams is the vendor parameter set polled when none is
// configured.
var defaultTrackingParams = []string{
	"Pow", "Mod", "SetTem", "TemUn", "WdSpd", "Air", "Blo", "Health",
	"SwhSlp", "Lig", "SwingLfRig", "SwUpDn", "Quiet", "Tur", "StHt",
	"HeatCoolType", "TemRec", "SvSt", "TemSen",
}
