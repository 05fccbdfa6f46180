// SPDX-License-Identifier: Apache-2.0

// secneg-client runs a security-context handshake against
// secneg-server over a websocket, sends one protected message and
// verifies the server's signature over it.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang-auth/go-secneg"
	_ "github.com/golang-auth/go-secneg/provider/jwtauth"
	_ "github.com/golang-auth/go-secneg/provider/x25519"
)

var _debug bool

func main() {
	pkg := flag.String("package", "x25519-psk", "security package name")
	principal := flag.String("principal", "demo-client", "local principal name")
	keyHex := flag.String("key", "", "pre-shared key, hex encoded")
	flag.BoolVar(&_debug, "debug", false, "enable debugging")
	flag.Parse()

	if flag.NArg() != 3 {
		log.Fatalf("Usage: %s [-package <name>] [-principal <name>] [-key <hex>] [-debug] url target msg\n", os.Args[0])
	}

	url := flag.Arg(0)
	target := flag.Arg(1)
	msg := flag.Arg(2)

	key, err := hex.DecodeString(*keyHex)
	if err != nil || len(key) == 0 {
		log.Fatal("a hex encoded -key is required")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	debug("Connected to %s", url)

	cl, err := secneg.NewClient(*pkg,
		secneg.WithPrincipal(*principal),
		secneg.WithIdentity(&secneg.AuthIdentity{Principal: *principal, Secret: key}),
		secneg.WithTarget(target),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer cl.Close()

	outcome, outToken, err := cl.Authorize(nil)
	if err != nil {
		log.Fatal(err)
	}

	if err := sendToken(conn, outToken); err != nil {
		log.Fatal(err)
	}
	debug("Sent context token (%d bytes):", len(outToken))
	debug("%s", formatToken(outToken))

	for !cl.Established() {
		inToken, err := recvToken(conn)
		if err != nil {
			log.Fatal(err)
		}
		debug("Read context token (%d bytes):", len(inToken))
		debug("%s", formatToken(inToken))

		outcome, outToken, err = cl.Authorize(inToken)
		if err != nil {
			log.Fatal(err)
		}

		if len(outToken) > 0 {
			if err := sendToken(conn, outToken); err != nil {
				log.Fatal(err)
			}
			debug("Sent context token (%d bytes):", len(outToken))
			debug("%s", formatToken(outToken))
		}
	}
	debug("Handshake finished: %s", outcome)

	printContextInfo(cl, *principal)

	// seal the message and ship trailer and ciphertext in one frame
	trailer, ciphertext, err := cl.Encrypt([]byte(msg))
	if err != nil {
		log.Fatal(err)
	}

	frame := buildFrame(trailer, ciphertext)
	if err := sendToken(conn, frame); err != nil {
		log.Fatal(err)
	}
	debug("Sent protected message (%d bytes):\n%s", len(frame), formatToken(frame))

	// the server answers with a signature over the plaintext
	sig, err := recvToken(conn)
	if err != nil {
		log.Fatal(err)
	}
	debug("Read signature (%d bytes):\n%s", len(sig), formatToken(sig))

	if err := cl.VerifySignature([]byte(msg), sig); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Signature from %q verified\n", cl.PeerName())
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

func buildFrame(trailer, ciphertext []byte) []byte {
	frame := make([]byte, 2, 2+len(trailer)+len(ciphertext))
	binary.BigEndian.PutUint16(frame, uint16(len(trailer)))
	frame = append(frame, trailer...)
	frame = append(frame, ciphertext...)
	return frame
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

func printContextInfo(cl *secneg.Client, principal string) {
	debug("Context flags: %s", cl.NegotiatedFlags())
	debug("%q to %q, expires: %s", principal, cl.PeerName(), cl.ExpiresAt().Round(time.Second))
}
