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

package sshutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/hivepot/hivepot/lib/utils"
)

// LoadOrCreateHostKey returns the persistent Ed25519 host key stored at
// path, generating and writing it in OpenSSH format on first run. A key
// that cannot be written to disk is still returned: scanners then see a
// new host identity on every restart, which beats not listening at all.
func LoadOrCreateHostKey(path string) (ssh.Signer, error) {
	if utils.FileExists(path) {
		data, err := os.ReadFile(path)
		if err == nil {
			signer, err := ssh.ParsePrivateKey(data)
			if err == nil {
				return signer, nil
			}
			logger.Warn("unparseable host key on disk, generating a fresh one",
				"path", path, "error", err)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		logger.Warn("cannot serialize host key, using in-memory key", "error", err)
		return signer, nil
	}
	if err := utils.WriteFilePrivate(path, pem.EncodeToMemory(block)); err != nil {
		logger.Warn("cannot persist host key, using in-memory key",
			"path", path, "error", err)
	}
	return signer, nil
}
