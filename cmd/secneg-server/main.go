// SPDX-License-Identifier: Apache-2.0

// secneg-server accepts security-context handshakes over a websocket,
// then answers one protected message from each client with a detached
// signature over the recovered plaintext.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang-auth/go-secneg"
	"github.com/golang-auth/go-secneg/observ"
	"github.com/golang-auth/go-secneg/observ/prom"
	_ "github.com/golang-auth/go-secneg/provider/jwtauth"
	_ "github.com/golang-auth/go-secneg/provider/x25519"
)

var _debug bool

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func main() {
	addr := flag.String("addr", ":1234", "address to listen on")
	path := flag.String("path", "/negotiate", "websocket path")
	pkg := flag.String("package", "x25519-psk", "security package name")
	principal := flag.String("principal", "demo-server", "local principal name")
	keyHex := flag.String("key", "", "pre-shared key, hex encoded")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&_debug, "debug", false, "enable debugging")
	flag.Parse()

	key, err := hex.DecodeString(*keyHex)
	if err != nil || len(key) == 0 {
		fmt.Fprintln(os.Stderr, "a hex encoded -key is required")
		os.Exit(1)
	}

	obs := observ.Observer(observ.Nop{})
	if *metricsAddr != "" {
		reg := prom.NewRegistry()
		obs = prom.NewObserver(reg)
		go func() {
			log.Fatal(http.ListenAndServe(*metricsAddr, prom.Handler(reg)))
		}()
	}

	http.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ERROR: upgrade: %s", err)
			return
		}

		go handleConn(conn, *pkg, *principal, key, obs)
	})

	log.Printf("listening on %s%s", *addr, *path)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func sendToken(conn *websocket.Conn, token []byte) error {
	return conn.WriteMessage(websocket.BinaryMessage, token)
}

func recvToken(conn *websocket.Conn) ([]byte, error) {
	mt, token, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected message type %d", mt)
	}

	return token, nil
}

func formatToken(tok []byte) string {
	b := &strings.Builder{}

	bd := hex.Dumper(b)
	defer bd.Close()

	bd.Write(tok)
	return b.String()
}

func debug(format string, args ...interface{}) {
	if !_debug {
		return
	}

	fmt.Printf(format+"\n", args...)
}

func handleConn(conn *websocket.Conn, pkg, principal string, key []byte, obs observ.Observer) {
	defer conn.Close()

	debug("Accepted connection from %s", conn.RemoteAddr())

	if err := serveConn(conn, pkg, principal, key, obs); err != nil {
		log.Printf("ERROR: %s", err)
	}
}

func serveConn(conn *websocket.Conn, pkg, principal string, key []byte, obs observ.Observer) error {
	srv, err := secneg.NewServer(pkg,
		secneg.WithPrincipal(principal),
		secneg.WithIdentity(&secneg.AuthIdentity{Principal: principal, Secret: key}),
		secneg.WithObserver(obs),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	for !srv.Established() {
		inToken, err := recvToken(conn)
		if err != nil {
			return err
		}
		debug("Read context token (%d bytes):", len(inToken))
		debug("%s", formatToken(inToken))

		_, outToken, err := srv.Authorize(inToken)
		if err != nil {
			return err
		}

		if len(outToken) > 0 {
			if err := sendToken(conn, outToken); err != nil {
				return err
			}
			debug("Sent context token (%d bytes):", len(outToken))
			debug("%s", formatToken(outToken))
		}
	}

	printContextInfo(srv)

	// one protected message, answered with a signature over the plaintext
	frame, err := recvToken(conn)
	if err != nil {
		return err
	}
	debug("Received protected message (%d bytes):\n%s", len(frame), formatToken(frame))

	trailer, ciphertext, err := splitFrame(frame)
	if err != nil {
		return err
	}

	msg, err := srv.Decrypt(ciphertext, trailer)
	if err != nil {
		return err
	}
	fmt.Printf("Received sealed message from %q: %q\n", srv.PeerName(), msg)

	sig, err := srv.Sign(msg)
	if err != nil {
		return err
	}
	if err := sendToken(conn, sig); err != nil {
		return err
	}
	debug("Sent signature (%d bytes):\n%s", len(sig), formatToken(sig))

	return nil
}

// splitFrame separates a message frame into the provider trailer and
// the ciphertext.  The trailer length rides in front as a 16-bit
// big-endian prefix.
func splitFrame(frame []byte) (trailer, ciphertext []byte, err error) {
	if len(frame) < 2 {
		return nil, nil, fmt.Errorf("short message frame")
	}
	n := int(binary.BigEndian.Uint16(frame))
	frame = frame[2:]
	if len(frame) < n {
		return nil, nil, fmt.Errorf("short message frame")
	}

	return frame[:n], frame[n:], nil
}

func printContextInfo(srv *secneg.Server) {
	debug("Context flags: %s", srv.NegotiatedFlags())
	debug("Peer %q, expires: %s", srv.PeerName(), srv.ExpiresAt().Round(time.Second))
}
