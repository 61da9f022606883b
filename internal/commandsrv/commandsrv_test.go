package commandsrv

import (
	"fmt"
	"testing"

	"github.com/kabilan-n/tsdf-fusion/internal/transport"
	"github.com/stretchr/testify/assert"
)

type fakeMap struct {
	cleared, meshed bool
	failClear       bool
}

func (f *fakeMap) ClearMap() error {
	if f.failClear {
		return fmt.Errorf("boom")
	}
	f.cleared = true
	return nil
}
func (f *fakeMap) GenerateMesh() error { f.meshed = true; return nil }

type fakeSubmap struct{ savedPath, loadedPath string }

func (f *fakeSubmap) SaveMap(path string) error { f.savedPath = path; return nil }
func (f *fakeSubmap) LoadMap(path string) error { f.loadedPath = path; return nil }

type fakeBroadcaster struct{ publishedClouds, publishedMap bool }

func (f *fakeBroadcaster) PublishPointClouds() error { f.publishedClouds = true; return nil }
func (f *fakeBroadcaster) PublishMap() error         { f.publishedMap = true; return nil }

func TestDispatchClearMap(t *testing.T) {
	m := &fakeMap{}
	d := &Dispatcher{Map: m}
	res := d.Dispatch(transport.CommandRequest{Name: "clear_map"})
	assert.True(t, res.Ok)
	assert.True(t, m.cleared)
}

func TestDispatchClearMapPropagatesError(t *testing.T) {
	m := &fakeMap{failClear: true}
	d := &Dispatcher{Map: m}
	res := d.Dispatch(transport.CommandRequest{Name: "clear_map"})
	assert.False(t, res.Ok)
	assert.NotEmpty(t, res.Error)
}

func TestDispatchSaveMapPassesArg(t *testing.T) {
	s := &fakeSubmap{}
	d := &Dispatcher{Submap: s}
	res := d.Dispatch(transport.CommandRequest{Name: "save_map", Arg: "/data/submap_3"})
	assert.True(t, res.Ok)
	assert.Equal(t, "/data/submap_3", s.savedPath)
}

func TestDispatchLoadMapPassesArg(t *testing.T) {
	s := &fakeSubmap{}
	d := &Dispatcher{Submap: s}
	res := d.Dispatch(transport.CommandRequest{Name: "load_map", Arg: "/data/submap_2"})
	assert.True(t, res.Ok)
	assert.Equal(t, "/data/submap_2", s.loadedPath)
}

func TestDispatchPublishCommands(t *testing.T) {
	b := &fakeBroadcaster{}
	d := &Dispatcher{Publish: b}

	res := d.Dispatch(transport.CommandRequest{Name: "publish_pointclouds"})
	assert.True(t, res.Ok)
	assert.True(t, b.publishedClouds)

	res = d.Dispatch(transport.CommandRequest{Name: "publish_map"})
	assert.True(t, res.Ok)
	assert.True(t, b.publishedMap)
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := &Dispatcher{}
	res := d.Dispatch(transport.CommandRequest{Name: "nonsense"})
	assert.False(t, res.Ok)
}

func TestDispatchUnwiredCollaboratorFailsGracefully(t *testing.T) {
	d := &Dispatcher{}
	res := d.Dispatch(transport.CommandRequest{Name: "generate_mesh"})
	assert.False(t, res.Ok)
	assert.Contains(t, res.Error, "not configured")
}
