// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
listen_address = "0.0.0.0:7234"
transport = "quic"
max_chunk_size = 8192

[[peers]]
address = "10.0.0.2"
screen_position = "left"

[[peers]]
address = "10.0.0.3"
screen_position = "right"

[queue]
max_queue_size = 500
parallel_processors = 2
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crossdesk.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesPeersAndOverrides(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7234", cfg.ListenAddress)
	require.Equal(t, TransportQUIC, cfg.Transport)
	require.Len(t, cfg.Peers, 2)
	require.Equal(t, 8192, cfg.MaxChunkSize)
	require.Equal(t, 500, cfg.Queue.MaxQueueSize)
	require.Equal(t, 2, cfg.Queue.ParallelProcessors)

	wl := cfg.Whitelist()
	require.Equal(t, "left", wl["10.0.0.2"])
	require.Equal(t, "right", wl["10.0.0.3"])
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTemp(t, `listen_address = "127.0.0.1:7234"`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, TransportTCP, cfg.Transport)
	require.Equal(t, 5, cfg.MaxErrors)
	require.Equal(t, 16*1024, cfg.MaxChunkSize)
	require.Equal(t, 1000, cfg.Queue.MaxQueueSize)
	require.Equal(t, 2, cfg.Queue.ParallelProcessors)
}
