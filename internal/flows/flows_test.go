package flows

import (
	"bytes"
	"testing"

	"github.com/dennisMeeQ/clavum/internal/crypto"
)

func TestKEKInfo(t *testing.T) {
	if got := string(KEKInfo("sec-1")); got != "clavum-kek-v1sec-1" {
		t.Fatalf("info = %q", got)
	}
}

func TestAADConcatenation(t *testing.T) {
	if got := string(AAD("sec-1", "routine", "agent-9")); got != "sec-1routineagent-9" {
		t.Fatalf("aad = %q", got)
	}
}

func TestGreenKEKCommutesAndIsDeterministic(t *testing.T) {
	ephPriv, ephPub, err := crypto.NewX25519Keypair()
	if err != nil {
		t.Fatal(err)
	}
	srvPriv, srvPub, err := crypto.NewX25519Keypair()
	if err != nil {
		t.Fatal(err)
	}
	salt := bytes.Repeat([]byte{0x01}, 32)

	// Agent side and server side must land on the same KEK.
	agentKEK, err := GreenKEK(ephPriv, srvPub, salt, "sec-1")
	if err != nil {
		t.Fatal(err)
	}
	serverKEK, err := GreenKEK(srvPriv, ephPub, salt, "sec-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(agentKEK, serverKEK) {
		t.Fatal("agent and server derivations differ")
	}
	if len(agentKEK) != crypto.KeySize {
		t.Fatalf("kek length %d", len(agentKEK))
	}

	again, _ := GreenKEK(ephPriv, srvPub, salt, "sec-1")
	if !bytes.Equal(agentKEK, again) {
		t.Fatal("not deterministic")
	}
}

func TestGreenKEKInputSensitivity(t *testing.T) {
	ephPriv, _, _ := crypto.NewX25519Keypair()
	_, srvPub, _ := crypto.NewX25519Keypair()
	salt := bytes.Repeat([]byte{0x01}, 32)

	base, err := GreenKEK(ephPriv, srvPub, salt, "sec-1")
	if err != nil {
		t.Fatal(err)
	}

	salt2 := append([]byte(nil), salt...)
	salt2[31] ^= 0x80
	withSalt, _ := GreenKEK(ephPriv, srvPub, salt2, "sec-1")
	if bytes.Equal(base, withSalt) {
		t.Fatal("salt change did not change kek")
	}

	withID, _ := GreenKEK(ephPriv, srvPub, salt, "sec-2")
	if bytes.Equal(base, withID) {
		t.Fatal("secret id change did not change kek")
	}
}

func TestRedKEKUsesBothLegsAndChallenge(t *testing.T) {
	srvPriv, _, _ := crypto.NewX25519Keypair()
	_, agentPub, _ := crypto.NewX25519Keypair()
	_, phonePub, _ := crypto.NewX25519Keypair()
	challenge := bytes.Repeat([]byte{0x07}, 96)

	base, err := RedKEK(srvPriv, agentPub, phonePub, challenge, "sec-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != crypto.KeySize {
		t.Fatalf("kek length %d", len(base))
	}

	_, otherPhone, _ := crypto.NewX25519Keypair()
	swapped, _ := RedKEK(srvPriv, agentPub, otherPhone, challenge, "sec-1")
	if bytes.Equal(base, swapped) {
		t.Fatal("phone leg ignored")
	}

	challenge2 := append([]byte(nil), challenge...)
	challenge2[0] ^= 1
	rechallenged, _ := RedKEK(srvPriv, agentPub, phonePub, challenge2, "sec-1")
	if bytes.Equal(base, rechallenged) {
		t.Fatal("challenge ignored: retrievals would share a kek")
	}
}

func TestWrapUnwrapDEK(t *testing.T) {
	kek, _ := crypto.RandomBytes(crypto.KeySize)
	dek := bytes.Repeat([]byte{0x02}, crypto.KeySize)
	aad := AAD("sec-1", "routine", "agent-1")

	ct, iv, tag, err := WrapDEK(kek, dek, aad)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnwrapDEK(kek, ct, iv, aad, tag)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatal("round trip mismatch")
	}

	// AAD binding: another agent's context must not unwrap.
	otherAAD := AAD("sec-1", "routine", "agent-2")
	if _, err := UnwrapDEK(kek, ct, iv, otherAAD, tag); err == nil {
		t.Fatal("wrong aad unwrapped")
	}
}

func TestEncryptDecryptSecret(t *testing.T) {
	dek, _ := crypto.RandomBytes(crypto.KeySize)
	aad := AAD("sec-9", "critical", "agent-1")
	plaintext := []byte("AKIA....")

	ct, iv, tag, err := EncryptSecret(dek, plaintext, aad)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptSecret(dek, ct, iv, aad, tag)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("round trip mismatch")
	}

	wrongDEK, _ := crypto.RandomBytes(crypto.KeySize)
	if _, err := DecryptSecret(wrongDEK, ct, iv, aad, tag); err == nil {
		t.Fatal("wrong dek decrypted")
	}
}
