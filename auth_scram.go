// SCRAM-SHA-256 authentication
//
// Resources:
//   https://tools.ietf.org/html/rfc5802
//   https://tools.ietf.org/html/rfc8265
//   https://www.postgresql.org/docs/current/sasl-authentication.html
//
// Notes:
//   https://github.com/StirlingMarketingGroup/pg-scram-sha-256 was very helpful

package pgduct

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"

	"github.com/pgduct/pgduct/pgwire"
)

const clientNonceLen = 18

// authSASL runs the SCRAM exchange. When the server offers SCRAM-SHA-256-PLUS
// and a TLS certificate hash was captured at connect time the channel-bound
// variant is used, binding the authentication to this exact TLS session.
func authSASL(w io.Writer, sr *startupReader, password string, certHash []byte, serverMechanisms []string) error {
	sc, err := newScramClient(serverMechanisms, password, certHash)
	if err != nil {
		return err
	}

	// client-first-message
	saslInitialResponse := &pgwire.SASLInitialResponse{
		AuthMechanism: sc.mechanism,
		Data:          sc.clientFirstMessage(),
	}
	if _, err := w.Write(saslInitialResponse.Encode(nil)); err != nil {
		return err
	}

	// server-first-message
	saslContinue, err := receiveSASL(sr, pgwire.AuthTypeSASLContinue)
	if err != nil {
		return err
	}
	if err := sc.recvServerFirstMessage(saslContinue.SASLData); err != nil {
		return err
	}

	// client-final-message
	saslResponse := &pgwire.SASLResponse{Data: sc.clientFinalMessage()}
	if _, err := w.Write(saslResponse.Encode(nil)); err != nil {
		return err
	}

	// server-final-message
	saslFinal, err := receiveSASL(sr, pgwire.AuthTypeSASLFinal)
	if err != nil {
		return err
	}
	return sc.recvServerFinalMessage(saslFinal.SASLData)
}

func receiveSASL(sr *startupReader, authType uint32) (*pgwire.Authentication, error) {
	msg, err := sr.receive()
	if err != nil {
		return nil, err
	}

	switch msg := msg.(type) {
	case *pgwire.Authentication:
		if msg.Type != authType {
			return nil, fmt.Errorf("expected authentication type %d, got %d", authType, msg.Type)
		}
		return msg, nil
	case *pgwire.ErrorResponse:
		return nil, errorResponseToPgError(msg)
	default:
		return nil, &UnexpectedMessageError{Received: sr.tag}
	}
}

type scramClient struct {
	mechanism string
	gs2Header []byte
	cbindData []byte // appended to gs2Header to form the c= attribute

	password    []byte
	clientNonce []byte

	clientFirstMessageBare []byte

	serverFirstMessage   []byte
	clientAndServerNonce []byte
	salt                 []byte
	iterations           int

	saltedPassword []byte
	authMessage    []byte
}

func newScramClient(serverMechanisms []string, password string, certHash []byte) (*scramClient, error) {
	sc := &scramClient{}

	for _, m := range serverMechanisms {
		if m == "SCRAM-SHA-256-PLUS" && certHash != nil {
			sc.mechanism = m
			sc.gs2Header = []byte("p=tls-server-end-point,,")
			sc.cbindData = certHash
			break
		}
	}
	if sc.mechanism == "" {
		for _, m := range serverMechanisms {
			if m == "SCRAM-SHA-256" {
				sc.mechanism = m
				sc.gs2Header = []byte("n,,")
				break
			}
		}
	}
	if sc.mechanism == "" {
		return nil, errors.New("server does not support any accepted SASL mechanism")
	}

	// Prepare password per SASLprep. An invalid-as-UTF-8 password is used raw,
	// matching libpq.
	if prep, err := precis.OpaqueString.String(password); err == nil {
		sc.password = []byte(prep)
	} else {
		sc.password = []byte(password)
	}

	buf := make([]byte, clientNonceLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	sc.clientNonce = make([]byte, base64.RawStdEncoding.EncodedLen(len(buf)))
	base64.RawStdEncoding.Encode(sc.clientNonce, buf)

	return sc, nil
}

func (sc *scramClient) clientFirstMessage() []byte {
	sc.clientFirstMessageBare = []byte(fmt.Sprintf("n=,r=%s", sc.clientNonce))
	return []byte(fmt.Sprintf("%s%s", sc.gs2Header, sc.clientFirstMessageBare))
}

func (sc *scramClient) recvServerFirstMessage(serverFirstMessage []byte) error {
	// serverFirstMessage aliases the startup read buffer; it must be copied before
	// the next receive overwrites it.
	sc.serverFirstMessage = append([]byte(nil), serverFirstMessage...)

	buf := sc.serverFirstMessage
	if !bytes.HasPrefix(buf, []byte("r=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include r=")
	}
	buf = buf[2:]

	idx := bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message received from server: did not include s=")
	}
	sc.clientAndServerNonce = buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("s=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include s=")
	}
	buf = buf[2:]

	idx = bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message received from server: did not include i=")
	}
	saltStr := buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("i=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include i=")
	}
	iterationsStr := buf[2:]

	var err error
	sc.salt, err = base64.StdEncoding.DecodeString(string(saltStr))
	if err != nil {
		return fmt.Errorf("invalid SCRAM salt received from server: %w", err)
	}

	sc.iterations, err = strconv.Atoi(string(iterationsStr))
	if err != nil || sc.iterations <= 0 {
		return fmt.Errorf("invalid SCRAM iteration count received from server: %s", iterationsStr)
	}

	if !bytes.HasPrefix(sc.clientAndServerNonce, sc.clientNonce) {
		return errors.New("invalid SCRAM nonce: did not start with client nonce")
	}

	if len(sc.clientAndServerNonce) <= len(sc.clientNonce) {
		return errors.New("invalid SCRAM nonce: did not include server nonce")
	}

	return nil
}

func (sc *scramClient) clientFinalMessage() []byte {
	cbind := make([]byte, 0, len(sc.gs2Header)+len(sc.cbindData))
	cbind = append(cbind, sc.gs2Header...)
	cbind = append(cbind, sc.cbindData...)
	clientFinalMessageWithoutProof := []byte(fmt.Sprintf("c=%s,r=%s",
		base64.StdEncoding.EncodeToString(cbind), sc.clientAndServerNonce))

	sc.saltedPassword = pbkdf2.Key(sc.password, sc.salt, sc.iterations, 32, sha256.New)
	sc.authMessage = bytes.Join([][]byte{sc.clientFirstMessageBare, sc.serverFirstMessage, clientFinalMessageWithoutProof}, []byte(","))

	clientProof := computeClientProof(sc.saltedPassword, sc.authMessage)

	return []byte(fmt.Sprintf("%s,p=%s", clientFinalMessageWithoutProof, clientProof))
}

func (sc *scramClient) recvServerFinalMessage(serverFinalMessage []byte) error {
	if !bytes.HasPrefix(serverFinalMessage, []byte("v=")) {
		return errors.New("invalid SCRAM server-final-message received from server")
	}

	serverSignature := serverFinalMessage[2:]

	if !hmac.Equal(serverSignature, computeServerSignature(sc.saltedPassword, sc.authMessage)) {
		return errors.New("invalid SCRAM ServerSignature received from server")
	}

	return nil
}

func computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func computeClientProof(saltedPassword, authMessage []byte) []byte {
	clientKey := computeHMAC(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := computeHMAC(storedKey[:], authMessage)

	clientProof := make([]byte, len(clientSignature))
	for i := 0; i < len(clientSignature); i++ {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	buf := make([]byte, base64.StdEncoding.EncodedLen(len(clientProof)))
	base64.StdEncoding.Encode(buf, clientProof)
	return buf
}

func computeServerSignature(saltedPassword, authMessage []byte) []byte {
	serverKey := computeHMAC(saltedPassword, []byte("Server Key"))
	serverSignature := computeHMAC(serverKey, authMessage)
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(serverSignature)))
	base64.StdEncoding.Encode(buf, serverSignature)
	return buf
}
