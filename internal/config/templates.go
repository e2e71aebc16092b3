package config

import (
	"fmt"
	"os"
)

// Template returns a commented twsync.toml with every supported key.
func Template() string {
	return settingsTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(settingsTemplate), 0o600)
}

const settingsTemplate = `# twsync client configuration.
# Every key may be overridden with TWSYNC_<KEY>, e.g. TWSYNC_SERVER_HOST.

server_host = "localhost"
server_port = 53589
# server_name = "taskd.example.org"
tls_protocol = "TLS"

# Relative paths resolve against this file's directory.
ssl_cert_ca_file = "ca.cert.pem"
ssl_cert_key_file = "client.cert.pem"
ssl_private_key_file = "client.key.pem"

auth_organization = "Public"
auth_user = "First Last"
auth_key = "00000000-0000-0000-0000-000000000000"

connect_timeout = "5s"
handshake_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
max_message_bytes = 8388608
`
