package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorIndex accelerates similarity lookups over mirrored fingerprint
// vectors. SQLite remains the source of truth.
type VectorIndex interface {
	Ensure(ctx context.Context, dims int) error
	Add(ctx context.Context, hash string, vec []float32) error
	MaxSimilarity(ctx context.Context, vec []float32) (float64, error)
	Close() error
}

// QdrantIndex keeps fingerprint vectors in a Qdrant collection and searches
// them by cosine similarity.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string

	mu      sync.Mutex
	ensured bool
}

// NewQdrantIndex connects to Qdrant at the given gRPC address.
func NewQdrantIndex(addr, collection string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("memory: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// Ensure creates the collection on first call if it doesn't exist.
func (q *QdrantIndex) Ensure(ctx context.Context, dims int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("memory: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			q.ensured = true
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("memory: create collection %s: %w", q.collection, err)
	}
	q.ensured = true
	return nil
}

// Add upserts one vector. The point ID is derived from the hash so repeated
// adds of the same fingerprint overwrite rather than duplicate.
func (q *QdrantIndex) Add(ctx context.Context, hash string, vec []float32) error {
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(hash)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vec},
				},
			},
			Payload: map[string]*pb.Value{
				"hash": {Kind: &pb.Value_StringValue{StringValue: hash}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("memory: upsert point: %w", err)
	}
	return nil
}

// MaxSimilarity returns the best cosine score against the collection, 0
// when it is empty.
func (q *QdrantIndex) MaxSimilarity(ctx context.Context, vec []float32) (float64, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          1,
	})
	if err != nil {
		return 0, fmt.Errorf("memory: search: %w", err)
	}
	results := resp.GetResult()
	if len(results) == 0 {
		return 0, nil
	}
	return float64(results[0].GetScore()), nil
}

func pointID(hash string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(hash)).String()
}
