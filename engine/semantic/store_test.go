package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// --- Mocks ---

type mockPoints struct {
	upserted  *pb.UpsertPoints
	upsertErr error
	deleted   *pb.DeletePoints
	deleteErr error
	searched  *pb.SearchPoints
	searchRes *pb.SearchResponse
	searchErr error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleted = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	if m.searchRes == nil {
		return &pb.SearchResponse{}, m.searchErr
	}
	return m.searchRes, m.searchErr
}

type mockCollections struct {
	existing  []string
	listErr   error
	created   *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func str(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func num(n int64) *pb.Value  { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}} }

// --- Tests ---

func TestNewWithClients_CloseIsNoop(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "bible_passages")
	if vs.Collection() != "bible_passages" {
		t.Fatalf("collection = %q", vs.Collection())
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_DoesNotDial(t *testing.T) {
	vs, err := New("localhost:0", "test", DialOpts{APIKey: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs.Close()
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()

	existing := &mockCollections{existing: []string{"bible_passages"}}
	if err := NewWithClients(&mockPoints{}, existing, "bible_passages").EnsureCollection(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if existing.created != nil {
		t.Fatal("existing collection was re-created")
	}

	fresh := &mockCollections{existing: []string{"other"}}
	if err := NewWithClients(&mockPoints{}, fresh, "bible_passages").EnsureCollection(ctx, 1536); err != nil {
		t.Fatal(err)
	}
	want := &pb.VectorParams{Size: 1536, Distance: pb.Distance_Cosine}
	if !proto.Equal(fresh.created.GetVectorsConfig().GetParams(), want) {
		t.Fatalf("created with %v", fresh.created.GetVectorsConfig())
	}
}

func TestEnsureCollection_Errors(t *testing.T) {
	for name, cols := range map[string]*mockCollections{
		"list":   {listErr: errors.New("rpc fail")},
		"create": {createErr: errors.New("create fail")},
	} {
		t.Run(name, func(t *testing.T) {
			if err := NewWithClients(&mockPoints{}, cols, "test").EnsureCollection(context.Background(), 4); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDeleteCollection(t *testing.T) {
	if err := NewWithClients(&mockPoints{}, &mockCollections{}, "test").DeleteCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := NewWithClients(&mockPoints{}, &mockCollections{deleteErr: errors.New("fail")}, "test").DeleteCollection(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "semantic: delete collection") {
		t.Fatalf("err = %v", err)
	}
}

func TestUpsert_ConvertsPayload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	if err := vs.Upsert(context.Background(), nil); err != nil || pts.upserted != nil {
		t.Fatalf("empty upsert: err=%v req=%v", err, pts.upserted)
	}

	records := []VectorRecord{{
		ID:        "0b6f3a4e-3f4c-5a8e-9a55-0d3f1c1f4f10",
		Embedding: []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"text":           "The LORD is my shepherd",
			"chapter_number": 23,
			"score":          0.5,
			"complete":       true,
			"other":          []int{1, 2},
		},
	}}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != records[0].ID || !pts.upserted.GetWait() {
		t.Fatalf("point = %v", p)
	}
	if p.Payload["chapter_number"].GetIntegerValue() != 23 || p.Payload["other"].GetStringValue() != "[1 2]" {
		t.Fatalf("payload = %v", p.Payload)
	}

	pts.upsertErr = errors.New("fail")
	if err := vs.Upsert(context.Background(), records); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteByTenant(t *testing.T) {
	pts := &mockPoints{}
	if err := NewWithClients(pts, &mockCollections{}, "test").DeleteByTenant(context.Background(), "bsb"); err != nil {
		t.Fatal(err)
	}
	want := &pb.Filter{Must: []*pb.Condition{fieldMatch(TenantKey, "bsb")}}
	if !proto.Equal(pts.deleted.GetPoints().GetFilter(), want) {
		t.Fatalf("filter = %v", pts.deleted.GetPoints().GetFilter())
	}
}

func TestSearchFiltered(t *testing.T) {
	pts := &mockPoints{searchRes: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
			Score: 0.95,
			Payload: map[string]*pb.Value{
				"text":           str("Be strong and courageous."),
				"book_name":      str("Joshua"),
				"chapter_number": num(1),
			},
		},
		{Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 7}}, Score: 0.5},
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	results, err := vs.SearchFiltered(context.Background(), []float32{1, 0}, 6, map[string]string{TenantKey: "bsb"})
	if err != nil {
		t.Fatal(err)
	}
	if pts.searched.GetLimit() != 6 || len(pts.searched.GetFilter().GetMust()) != 1 {
		t.Fatalf("request = %v", pts.searched)
	}
	if len(results) != 2 || results[0].ID != "p1" || results[1].ID != "7" {
		t.Fatalf("results = %+v", results)
	}
	r := results[0]
	if r.Content != "Be strong and courageous." || r.Payload["book_name"] != "Joshua" || r.Payload["chapter_number"] != int64(1) {
		t.Fatalf("result = %+v", r)
	}
	if _, ok := r.Payload["text"]; ok {
		t.Fatal("text should not be duplicated into the payload map")
	}

	if _, err := vs.Search(context.Background(), []float32{1}, 5); err != nil {
		t.Fatal(err)
	}
	if pts.searched.GetFilter() != nil {
		t.Fatal("unfiltered search sent a filter")
	}

	pts.searchErr = errors.New("unavailable")
	if _, err := vs.Search(context.Background(), []float32{1}, 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestFieldMatch(t *testing.T) {
	fc := fieldMatch("tenant", "bsb").GetField()
	if fc.GetKey() != "tenant" || fc.GetMatch().GetKeyword() != "bsb" {
		t.Fatalf("condition = %v", fc)
	}
}
