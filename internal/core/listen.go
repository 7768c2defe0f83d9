package core

import "net"

// ListenData is the §GLOSSARY "Listen data" tuple: a {game socket, ping
// socket, virtual-zone name, client-type allowlist}.
type ListenData struct {
	ConnectAs   string
	BindAddress string
	Port        int
	AllowVIE    bool
	AllowCont   bool

	gameSocket *net.UDPConn
	pingSocket *net.UDPConn
}
