package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dennisMeeQ/clavum/internal/model"
)

// Mongo is the production Backend. The nonce collection's unique index on
// digest is what makes replay rejection a storage-level guarantee rather
// than a process-local one.
type Mongo struct {
	cli *mongo.Client
	db  *mongo.Database
}

func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}

	m := &Mongo{cli: cli, db: cli.Database(dbName)}
	m.ensureIndexes(ctx)
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.cli.Disconnect(ctx)
}

func (m *Mongo) ensureIndexes(ctx context.Context) {
	_, _ = m.db.Collection("secrets").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = m.db.Collection("nonces").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "digest", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = m.db.Collection("phones").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}},
	})
	_, _ = m.db.Collection("approvals").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	_, _ = m.db.Collection("audit").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
}

func isDuplicateKey(err error) bool {
	var wex mongo.WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// ---------- tenants ----------

type tenantDoc struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	PrivX25519 []byte    `bson:"priv_x25519"`
	PubX25519  []byte    `bson:"pub_x25519"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (m *Mongo) CreateTenant(ctx context.Context, t *model.Tenant) error {
	_, err := m.db.Collection("tenants").InsertOne(ctx, tenantDoc{
		ID: t.ID, Name: t.Name, PrivX25519: t.PrivX25519, PubX25519: t.PubX25519, CreatedAt: t.CreatedAt,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var doc tenantDoc
	err := m.db.Collection("tenants").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.Tenant{
		ID: doc.ID, Name: doc.Name, PrivX25519: doc.PrivX25519, PubX25519: doc.PubX25519, CreatedAt: doc.CreatedAt,
	}, nil
}

// ---------- identities ----------

type identityDoc struct {
	ID         string    `bson:"_id"`
	TenantID   string    `bson:"tenant_id"`
	PubX25519  []byte    `bson:"pub_x25519"`
	PubEd25519 []byte    `bson:"pub_ed25519"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (m *Mongo) AddAgent(ctx context.Context, a *model.Agent) error {
	_, err := m.db.Collection("agents").InsertOne(ctx, identityDoc{
		ID: a.ID, TenantID: a.TenantID, PubX25519: a.PubX25519, PubEd25519: a.PubEd25519, CreatedAt: a.CreatedAt,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) AddPhone(ctx context.Context, p *model.Phone) error {
	_, err := m.db.Collection("phones").InsertOne(ctx, identityDoc{
		ID: p.ID, TenantID: p.TenantID, PubX25519: p.PubX25519, PubEd25519: p.PubEd25519, CreatedAt: p.CreatedAt,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	doc, err := m.findIdentity(ctx, "agents", bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &model.Agent{ID: doc.ID, TenantID: doc.TenantID, PubX25519: doc.PubX25519, PubEd25519: doc.PubEd25519, CreatedAt: doc.CreatedAt}, nil
}

func (m *Mongo) GetPhone(ctx context.Context, id string) (*model.Phone, error) {
	doc, err := m.findIdentity(ctx, "phones", bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &model.Phone{ID: doc.ID, TenantID: doc.TenantID, PubX25519: doc.PubX25519, PubEd25519: doc.PubEd25519, CreatedAt: doc.CreatedAt}, nil
}

func (m *Mongo) PhoneForTenant(ctx context.Context, tenantID string) (*model.Phone, error) {
	doc, err := m.findIdentity(ctx, "phones", bson.M{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	return &model.Phone{ID: doc.ID, TenantID: doc.TenantID, PubX25519: doc.PubX25519, PubEd25519: doc.PubEd25519, CreatedAt: doc.CreatedAt}, nil
}

func (m *Mongo) findIdentity(ctx context.Context, coll string, filter bson.M) (*identityDoc, error) {
	var doc identityDoc
	err := m.db.Collection(coll).FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ---------- secrets ----------

type secretDoc struct {
	ID        string    `bson:"_id"`
	TenantID  string    `bson:"tenant_id"`
	AgentID   string    `bson:"agent_id"`
	Name      string    `bson:"name"`
	Tier      string    `bson:"tier"`
	CreatedAt time.Time `bson:"created_at"`
}

func (m *Mongo) CreateSecret(ctx context.Context, s *model.SecretMetadata) error {
	_, err := m.db.Collection("secrets").InsertOne(ctx, secretDoc{
		ID: s.ID, TenantID: s.TenantID, AgentID: s.AgentID, Name: s.Name, Tier: string(s.Tier), CreatedAt: s.CreatedAt,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetSecret(ctx context.Context, id string) (*model.SecretMetadata, error) {
	var doc secretDoc
	err := m.db.Collection("secrets").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return secretFromDoc(doc), nil
}

func (m *Mongo) ListSecrets(ctx context.Context, agentID string) ([]model.SecretMetadata, error) {
	cur, err := m.db.Collection("secrets").Find(ctx, bson.M{"agent_id": agentID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.SecretMetadata
	for cur.Next(ctx) {
		var doc secretDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *secretFromDoc(doc))
	}
	return out, cur.Err()
}

func (m *Mongo) DeleteSecret(ctx context.Context, id string) error {
	res, err := m.db.Collection("secrets").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func secretFromDoc(doc secretDoc) *model.SecretMetadata {
	return &model.SecretMetadata{
		ID: doc.ID, TenantID: doc.TenantID, AgentID: doc.AgentID,
		Name: doc.Name, Tier: model.Tier(doc.Tier), CreatedAt: doc.CreatedAt,
	}
}

// ---------- approvals ----------

type approvalDoc struct {
	ID          string     `bson:"_id"`
	TenantID    string     `bson:"tenant_id"`
	PhoneID     string     `bson:"phone_id"`
	SecretID    string     `bson:"secret_id"`
	AgentID     string     `bson:"agent_id"`
	Reason      string     `bson:"reason"`
	Tier        string     `bson:"tier"`
	Challenge   []byte     `bson:"challenge"`
	EphPub      []byte     `bson:"eph_pub"`
	KEKSalt     []byte     `bson:"kek_salt"`
	Status      string     `bson:"status"`
	CreatedAt   time.Time  `bson:"created_at"`
	ExpiresAt   time.Time  `bson:"expires_at"`
	RespondedAt *time.Time `bson:"responded_at,omitempty"`
	ApprovalSig []byte     `bson:"approval_sig,omitempty"`
	Audited     bool       `bson:"audited"`
}

func (m *Mongo) CreateApproval(ctx context.Context, a *model.ApprovalRequest) error {
	_, err := m.db.Collection("approvals").InsertOne(ctx, approvalDoc{
		ID: a.ID, TenantID: a.TenantID, PhoneID: a.PhoneID, SecretID: a.SecretID,
		AgentID: a.AgentID, Reason: a.Reason, Tier: string(a.Tier),
		Challenge: a.Challenge, EphPub: a.EphPub, KEKSalt: a.KEKSalt,
		Status: string(a.Status), CreatedAt: a.CreatedAt, ExpiresAt: a.ExpiresAt,
		Audited: a.Audited,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var doc approvalDoc
	err := m.db.Collection("approvals").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return approvalFromDoc(doc), nil
}

func (m *Mongo) ResolveApproval(ctx context.Context, id string, to model.ApprovalStatus, respondedAt time.Time, sig []byte) error {
	set := bson.M{"status": string(to), "responded_at": respondedAt}
	if sig != nil {
		set["approval_sig"] = sig
	}
	res, err := m.db.Collection("approvals").UpdateOne(ctx,
		bson.M{"_id": id, "status": string(model.StatusPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Record missing or already resolved; distinguish for the caller.
		n, err := m.db.Collection("approvals").CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (m *Mongo) ExpireDueApprovals(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	res, err := m.db.Collection("approvals").UpdateMany(ctx,
		bson.M{
			"tenant_id":  tenantID,
			"status":     string(model.StatusPending),
			"expires_at": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{"status": string(model.StatusExpired), "responded_at": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *Mongo) ListPendingApprovals(ctx context.Context, tenantID string) ([]model.ApprovalRequest, error) {
	cur, err := m.db.Collection("approvals").Find(ctx,
		bson.M{"tenant_id": tenantID, "status": string(model.StatusPending)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.ApprovalRequest
	for cur.Next(ctx) {
		var doc approvalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *approvalFromDoc(doc))
	}
	return out, cur.Err()
}

func (m *Mongo) MarkAudited(ctx context.Context, id string) (bool, error) {
	res, err := m.db.Collection("approvals").UpdateOne(ctx,
		bson.M{"_id": id, "audited": false},
		bson.M{"$set": bson.M{"audited": true}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func approvalFromDoc(doc approvalDoc) *model.ApprovalRequest {
	return &model.ApprovalRequest{
		ID: doc.ID, TenantID: doc.TenantID, PhoneID: doc.PhoneID, SecretID: doc.SecretID,
		AgentID: doc.AgentID, Reason: doc.Reason, Tier: model.Tier(doc.Tier),
		Challenge: doc.Challenge, EphPub: doc.EphPub, KEKSalt: doc.KEKSalt,
		Status: model.ApprovalStatus(doc.Status), CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt, RespondedAt: doc.RespondedAt,
		ApprovalSig: doc.ApprovalSig, Audited: doc.Audited,
	}
}

// ---------- nonces ----------

func (m *Mongo) InsertNonce(ctx context.Context, digest string, expiresAt time.Time) error {
	_, err := m.db.Collection("nonces").InsertOne(ctx, bson.M{
		"digest":     digest,
		"expires_at": expiresAt,
	})
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) DeleteExpiredNonces(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.db.Collection("nonces").DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ---------- audit ----------

type auditDoc struct {
	ID        string    `bson:"_id"`
	TenantID  string    `bson:"tenant_id"`
	AgentID   string    `bson:"agent_id"`
	SecretID  string    `bson:"secret_id"`
	Reason    string    `bson:"reason"`
	Tier      string    `bson:"tier"`
	Result    string    `bson:"result"`
	CreatedAt time.Time `bson:"created_at"`
	LatencyMS int64     `bson:"latency_ms"`
	Proof     []byte    `bson:"proof,omitempty"`
	PrevHash  []byte    `bson:"prev_hash,omitempty"`
	Hash      []byte    `bson:"hash"`
}

func (m *Mongo) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := m.db.Collection("audit").InsertOne(ctx, auditDoc{
		ID: e.ID, TenantID: e.TenantID, AgentID: e.AgentID, SecretID: e.SecretID,
		Reason: e.Reason, Tier: string(e.Tier), Result: string(e.Result),
		CreatedAt: e.CreatedAt, LatencyMS: e.LatencyMS, Proof: e.Proof,
		PrevHash: e.PrevHash, Hash: e.Hash,
	})
	return err
}

func (m *Mongo) ListAudit(ctx context.Context, q AuditQuery) ([]model.AuditEntry, error) {
	filter := bson.M{}
	if q.TenantID != "" {
		filter["tenant_id"] = q.TenantID
	}
	if q.AgentID != "" {
		filter["agent_id"] = q.AgentID
	}
	if q.SecretID != "" {
		filter["secret_id"] = q.SecretID
	}
	created := bson.M{}
	if !q.From.IsZero() {
		created["$gte"] = q.From
	}
	if !q.To.IsZero() {
		created["$lte"] = q.To
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}
	cur, err := m.db.Collection("audit").Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.AuditEntry
	for cur.Next(ctx) {
		var doc auditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, model.AuditEntry{
			ID: doc.ID, TenantID: doc.TenantID, AgentID: doc.AgentID, SecretID: doc.SecretID,
			Reason: doc.Reason, Tier: model.Tier(doc.Tier), Result: model.AuditResult(doc.Result),
			CreatedAt: doc.CreatedAt, LatencyMS: doc.LatencyMS, Proof: doc.Proof,
			PrevHash: doc.PrevHash, Hash: doc.Hash,
		})
	}
	return out, cur.Err()
}

func (m *Mongo) LastAuditHash(ctx context.Context, tenantID string) ([]byte, error) {
	var doc auditDoc
	err := m.db.Collection("audit").FindOne(ctx, bson.M{"tenant_id": tenantID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Hash, nil
}
