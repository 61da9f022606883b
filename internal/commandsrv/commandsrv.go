// Package commandsrv dispatches named admin commands
// (clear_map, generate_mesh, save_map, load_map, publish_pointclouds,
// publish_map) to the collaborator that implements each one, the same
// flat name->handler shape as the reference corpus's serialmux/API admin
// routes (a dispatcher keyed by a command name rather than one method
// per transport frame). Each handler returns a bare success flag per
// spec.md's command contract.
package commandsrv

import (
	"fmt"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
	"github.com/kabilan-n/tsdf-fusion/internal/transport"
)

// MapController owns the live TSDF layer/mesh lifecycle.
type MapController interface {
	ClearMap() error
	GenerateMesh() error
}

// SubmapController persists and restores the layer to/from disk.
type SubmapController interface {
	SaveMap(path string) error
	LoadMap(path string) error
}

// Broadcaster re-publishes the current state over transport on demand
// (as opposed to the periodic publish loop in cmd/fusion-server).
type Broadcaster interface {
	PublishPointClouds() error
	PublishMap() error
}

// Dispatcher wires the three collaborator interfaces to named commands.
// Any collaborator left nil causes its commands to fail with a non-ok
// result rather than panicking, so a partially-wired server (e.g. one
// running without submap persistence configured) still serves the
// commands it can.
type Dispatcher struct {
	Map     MapController
	Submap  SubmapController
	Publish Broadcaster
}

// Dispatch implements transport.CommandHandler.
func (d *Dispatcher) Dispatch(req transport.CommandRequest) transport.CommandResult {
	var err error
	switch req.Name {
	case "clear_map":
		err = d.requireMap().ClearMap()
	case "generate_mesh":
		err = d.requireMap().GenerateMesh()
	case "save_map":
		err = d.requireSubmap().SaveMap(req.Arg)
	case "load_map":
		err = d.requireSubmap().LoadMap(req.Arg)
	case "publish_pointclouds":
		err = d.requirePublish().PublishPointClouds()
	case "publish_map":
		err = d.requirePublish().PublishMap()
	default:
		err = fmt.Errorf("commandsrv: unknown command %q", req.Name)
	}

	if err != nil {
		diag.Opsf("commandsrv: command %q failed: %v", req.Name, err)
		return transport.CommandResult{Ok: false, Error: err.Error()}
	}
	return transport.CommandResult{Ok: true}
}

// requireMap/requireSubmap/requirePublish return a collaborator that
// always errors when the real one wasn't wired, letting Dispatch stay a
// straight-line switch instead of a nil check per case.
func (d *Dispatcher) requireMap() MapController {
	if d.Map == nil {
		return unwiredMap{}
	}
	return d.Map
}

func (d *Dispatcher) requireSubmap() SubmapController {
	if d.Submap == nil {
		return unwiredSubmap{}
	}
	return d.Submap
}

func (d *Dispatcher) requirePublish() Broadcaster {
	if d.Publish == nil {
		return unwiredPublish{}
	}
	return d.Publish
}

type unwiredMap struct{}

func (unwiredMap) ClearMap() error     { return fmt.Errorf("commandsrv: map controller not configured") }
func (unwiredMap) GenerateMesh() error { return fmt.Errorf("commandsrv: map controller not configured") }

type unwiredSubmap struct{}

func (unwiredSubmap) SaveMap(string) error {
	return fmt.Errorf("commandsrv: submap controller not configured")
}
func (unwiredSubmap) LoadMap(string) error {
	return fmt.Errorf("commandsrv: submap controller not configured")
}

type unwiredPublish struct{}

func (unwiredPublish) PublishPointClouds() error {
	return fmt.Errorf("commandsrv: broadcaster not configured")
}
func (unwiredPublish) PublishMap() error {
	return fmt.Errorf("commandsrv: broadcaster not configured")
}
