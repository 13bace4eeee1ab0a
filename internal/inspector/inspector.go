// Package inspector implements the (added) SPEC_FULL §4.9/§6 inspector
// registry: out-of-process plugins named by the `InspectorPlugin <name>
// <path>` directive and selected per rule by its `inspector <name>`
// clause, or per scope by `DivertInspector <name>`.
// Grounded on the hashicorp/go-plugin client wiring the teacher's
// protocol-plugin manager used, generalized from a single hardcoded
// "protocol" plugin type to a name-keyed registry and narrowed to the
// net/rpc transport so no direct grpc dependency is needed.
package inspector

import (
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	hplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the magic-cookie pair every inspector plugin process
// must echo back before go-plugin will treat it as a valid child
// (grounded on the teacher's GetHandshakeConfig).
var Handshake = hplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SSLPROXY_INSPECTOR_PLUGIN",
	MagicCookieValue: "sslproxy",
}

// Decision is what an inspector returns after examining one divert
// candidate's identifying bytes (SNI, Host header, or similar).
type Decision struct {
	Allow bool
	Note  string
}

// Inspector is the RPC-callable surface an inspector plugin exposes.
type Inspector interface {
	Inspect(payload []byte) (Decision, error)
}

// pluginImpl adapts Inspector to go-plugin's net/rpc Plugin interface
// (Server/Client), the same shape the teacher's ProtocolPluginImpl used.
type pluginImpl struct {
	Impl Inspector
}

func (p *pluginImpl) Server(*hplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *pluginImpl) Client(_ *hplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

type rpcServer struct{ impl Inspector }

func (s *rpcServer) Inspect(payload []byte, resp *Decision) error {
	d, err := s.impl.Inspect(payload)
	if err != nil {
		return err
	}
	*resp = d
	return nil
}

type rpcClient struct{ client *rpc.Client }

func (c *rpcClient) Inspect(payload []byte) (Decision, error) {
	var resp Decision
	err := c.client.Call("Plugin.Inspect", payload, &resp)
	return resp, err
}

// status mirrors the teacher's PluginStatus lifecycle enum.
type status string

const (
	statusRegistered status = "registered"
	statusRunning    status = "running"
	statusStopped    status = "stopped"
	statusError      status = "error"
)

// Info is the introspectable state of one registered inspector,
// exposed by the admin monitor's debug surface.
type Info struct {
	Name   string
	Path   string
	Status string
	Error  string
}

// Registry tracks every `InspectorPlugin` declared in the
// configuration and the live go-plugin client for each one that has
// been started.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*hplugin.Client
	infos   map[string]*Info
}

// NewRegistry builds a registry holding one registered, not yet
// started entry per element of names, the Global.InspectorPlugins map
// collected by the config loader.
func NewRegistry(names map[string]string) *Registry {
	r := &Registry{
		clients: make(map[string]*hplugin.Client),
		infos:   make(map[string]*Info),
	}
	for name, path := range names {
		r.infos[name] = &Info{Name: name, Path: path, Status: string(statusRegistered)}
	}
	return r
}

// Start launches the plugin process named name and dispenses its
// Inspector client.
func (r *Registry) Start(name string) (Inspector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.infos[name]
	if !ok {
		return nil, fmt.Errorf("inspector: %s: not registered", name)
	}

	client := hplugin.NewClient(&hplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		AllowedProtocols: []hplugin.Protocol{hplugin.ProtocolNetRPC},
		Plugins:          map[string]hplugin.Plugin{"inspector": &pluginImpl{}},
		Cmd:              exec.Command(info.Path),
	})

	rpcClient, err := client.Client()
	if err != nil {
		info.Status = string(statusError)
		info.Error = err.Error()
		return nil, fmt.Errorf("inspector: %s: client: %w", name, err)
	}

	raw, err := rpcClient.Dispense("inspector")
	if err != nil {
		info.Status = string(statusError)
		info.Error = err.Error()
		return nil, fmt.Errorf("inspector: %s: dispense: %w", name, err)
	}

	r.clients[name] = client
	info.Status = string(statusRunning)
	info.Error = ""
	return raw.(Inspector), nil
}

// Stop kills the plugin process named name, if running.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[name]
	if !ok {
		return fmt.Errorf("inspector: %s: not running", name)
	}
	client.Kill()
	delete(r.clients, name)
	if info, ok := r.infos[name]; ok {
		info.Status = string(statusStopped)
	}
	return nil
}

// List returns every registered inspector's introspectable state.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, *info)
	}
	return out
}
