package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"

	"github.com/dennisMeeQ/clavum/internal/agentvault"
	"github.com/dennisMeeQ/clavum/internal/client"
	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/platform"
)

func main() {
	// ---- keygen ----
	keygenCmd := flag.NewFlagSet("keygen", flag.ExitOnError)
	kgKeys := keygenCmd.String("keys", defaultKeyDir(), "keychain directory")
	kgID := keygenCmd.String("id", "agent", "identity name for the key files")

	// ---- register ----
	regCmd := flag.NewFlagSet("register", flag.ExitOnError)
	regServer := regCmd.String("server", "http://localhost:8080", "server base URL")
	regKeys := regCmd.String("keys", defaultKeyDir(), "keychain directory")
	regID := regCmd.String("id", "agent", "identity name")
	regAgentID := regCmd.String("agent", "", "agent id at the server")
	regServerPub := regCmd.String("server-pub", "", "tenant public key (base64url)")
	regSecretID := regCmd.String("secret-id", "", "secret id (generated if empty)")
	regName := regCmd.String("name", "", "secret name")
	regTier := regCmd.String("tier", "routine", "tier: routine|sensitive|critical")

	// ---- add ----
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addServer := addCmd.String("server", "http://localhost:8080", "server base URL")
	addKeys := addCmd.String("keys", defaultKeyDir(), "keychain directory")
	addID := addCmd.String("id", "agent", "identity name")
	addAgentID := addCmd.String("agent", "", "agent id at the server")
	addServerPub := addCmd.String("server-pub", "", "tenant public key (base64url)")
	addVault := addCmd.String("vault", "./agent.vlt", "vault file path")
	addPass := addCmd.String("passphrase", "", "vault passphrase")
	addSecretID := addCmd.String("secret-id", "", "secret id")
	addName := addCmd.String("name", "", "secret name")
	addTier := addCmd.String("tier", "routine", "tier")
	addValue := addCmd.String("value", "", "secret value")

	// ---- get ----
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	getServer := getCmd.String("server", "http://localhost:8080", "server base URL")
	getKeys := getCmd.String("keys", defaultKeyDir(), "keychain directory")
	getID := getCmd.String("id", "agent", "identity name")
	getAgentID := getCmd.String("agent", "", "agent id at the server")
	getServerPub := getCmd.String("server-pub", "", "tenant public key (base64url)")
	getVault := getCmd.String("vault", "./agent.vlt", "vault file path")
	getPass := getCmd.String("passphrase", "", "vault passphrase")
	getSecretID := getCmd.String("secret-id", "", "secret id")
	getReason := getCmd.String("reason", "", "reason for access (mandatory)")
	getApproval := getCmd.String("approval", "", "poll an existing approval id")

	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "keygen":
		_ = keygenCmd.Parse(os.Args[2:])
		dieIf(cmdKeygen(*kgKeys, *kgID))

	case "register":
		_ = regCmd.Parse(os.Args[2:])
		ag, err := buildAgent(*regServer, *regKeys, *regID, *regAgentID, *regServerPub)
		dieIf(err)
		tier, err := model.ParseTier(*regTier)
		dieIf(err)
		info, err := ag.RegisterSecret(ctx, *regSecretID, *regName, tier)
		dieIf(err)
		fmt.Printf("registered %s (%s, %s)\n", info.ID, info.Name, info.Tier)

	case "add":
		_ = addCmd.Parse(os.Args[2:])
		ag, err := buildAgent(*addServer, *addKeys, *addID, *addAgentID, *addServerPub)
		dieIf(err)
		dieIf(cmdAdd(ctx, ag, *addVault, *addPass, *addAgentID, *addSecretID, *addName, *addTier, *addValue))

	case "get":
		_ = getCmd.Parse(os.Args[2:])
		ag, err := buildAgent(*getServer, *getKeys, *getID, *getAgentID, *getServerPub)
		dieIf(err)
		dieIf(cmdGet(ctx, ag, *getVault, *getPass, *getSecretID, *getReason, *getApproval))

	default:
		usage()
	}
}

func cmdKeygen(keyDir, id string) error {
	kc, err := platform.NewFileKeychain(keyDir)
	if err != nil {
		return err
	}
	xPriv, xPub, err := crypto.NewX25519Keypair()
	if err != nil {
		return err
	}
	defer crypto.Zero(xPriv)
	edPriv, edPub, err := crypto.NewEd25519Keypair()
	if err != nil {
		return err
	}
	if err := kc.Store(id+".x25519", xPriv); err != nil {
		return err
	}
	if err := kc.Store(id+".ed25519", edPriv); err != nil {
		return err
	}
	fmt.Printf("x25519 public:  %s\n", crypto.ToB64URL(xPub))
	fmt.Printf("ed25519 public: %s\n", crypto.ToB64URL(edPub))
	return nil
}

func cmdAdd(ctx context.Context, ag *client.Agent, vaultPath, passphrase, agentID, secretID, name, tier, value string) error {
	t, err := model.ParseTier(tier)
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("value required")
	}
	info, err := ag.RegisterSecret(ctx, secretID, name, t)
	if err != nil {
		return err
	}

	mat, err := ag.NewWrapMaterial(info.ID)
	if err != nil {
		return err
	}
	defer crypto.Zero(mat.KEK)

	v, err := openVault(ctx, vaultPath, passphrase)
	if err != nil {
		return err
	}
	defer v.Lock()

	meta := agentvault.Meta{
		SecretID: info.ID,
		Name:     name,
		AgentID:  agentID,
		Tier:     t,
		EphPub:   mat.EphPub,
		KEKSalt:  mat.KEKSalt,
	}
	if err := v.Put(ctx, meta, []byte(value), mat.KEK); err != nil {
		return err
	}
	fmt.Printf("stored %s\n", info.ID)
	return nil
}

func cmdGet(ctx context.Context, ag *client.Agent, vaultPath, passphrase, secretID, reason, approvalID string) error {
	if reason == "" {
		return fmt.Errorf("reason required")
	}
	v, err := openVault(ctx, vaultPath, passphrase)
	if err != nil {
		return err
	}
	defer v.Lock()

	metas, err := v.List(ctx)
	if err != nil {
		return err
	}
	var meta *agentvault.Meta
	for i := range metas {
		if metas[i].SecretID == secretID {
			meta = &metas[i]
			break
		}
	}
	if meta == nil {
		return agentvault.ErrNotFound
	}

	var kek []byte
	if approvalID != "" {
		poll, err := ag.PollStatus(ctx, secretID, approvalID)
		if err != nil {
			return err
		}
		if poll.KEK == nil {
			fmt.Printf("approval %s: %s\n", approvalID, poll.Status)
			return nil
		}
		kek = poll.KEK
	} else {
		oc, err := ag.Retrieve(ctx, secretID, reason, meta.EphPub, meta.KEKSalt)
		if err != nil {
			return err
		}
		if oc.KEK == nil {
			fmt.Printf("pending approval %s, expires %s\n", oc.ApprovalID, oc.ExpiresAt)
			fmt.Printf("poll with: clavumctl get -secret-id %s -reason %q -approval %s\n", secretID, reason, oc.ApprovalID)
			return nil
		}
		kek = oc.KEK
	}
	defer crypto.Zero(kek)

	plaintext, err := v.Open(ctx, secretID, kek)
	if err != nil {
		return err
	}
	defer crypto.Zero(plaintext)
	fmt.Printf("%s\n", plaintext)
	return nil
}

func buildAgent(base, keyDir, id, agentID, serverPubB64 string) (*client.Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id required (-agent)")
	}
	kc, err := platform.NewFileKeychain(keyDir)
	if err != nil {
		return nil, err
	}
	xPriv, err := kc.Load(id + ".x25519")
	if err != nil {
		return nil, err
	}
	edPriv, err := kc.Load(id + ".ed25519")
	if err != nil {
		return nil, err
	}
	serverPub, err := crypto.FromB64URL(serverPubB64)
	if err != nil {
		return nil, fmt.Errorf("server-pub: %w", err)
	}
	return client.NewAgent(base, agentID, ed25519.PrivateKey(edPriv), xPriv, serverPub, nil, nil), nil
}

func openVault(ctx context.Context, path, passphrase string) (agentvault.Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required")
	}
	pass := []byte(passphrase)
	defer crypto.Zero(pass)

	v := agentvault.New(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := v.Create(ctx, pass); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := v.Unlock(ctx, pass); err != nil {
		return nil, err
	}
	return v, nil
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./clavum-keys"
	}
	return home + "/.clavum/keys"
}

func usage() {
	fmt.Print(`clavumctl commands:

  keygen    --keys dir --id agent
  register  --server URL --agent ID --server-pub B64 --secret-id S --name N --tier routine|sensitive|critical
  add       --server URL --agent ID --server-pub B64 --vault path --passphrase P --secret-id S --name N --tier T --value V
  get       --server URL --agent ID --server-pub B64 --vault path --passphrase P --secret-id S --reason R [--approval ID]
`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
