package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"mangasync/internal/resume"
	"mangasync/internal/sync"
	"mangasync/pkg/models"
)

const (
	serviceName        = "mangasync.progress.v1.ProgressService"
	jsonCodecName      = "json"
	methodIngest       = "/" + serviceName + "/Ingest"
	methodGetUnified   = "/" + serviceName + "/GetUnified"
	methodSelectResume = "/" + serviceName + "/SelectResume"
	methodListSeries   = "/" + serviceName + "/ListSeries"
	methodWatch        = "/" + serviceName + "/Watch"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type IngestRequest struct {
	UserID         string  `json:"user_id"`
	Platform       string  `json:"platform"`
	SeriesTitle    string  `json:"series_title"`
	Chapter        float64 `json:"chapter"`
	ScrollPosition int     `json:"scroll_position"`
	TimestampMs    int64   `json:"timestamp_ms"`
	URL            string  `json:"url"`
}

type IngestResponse struct {
	SeriesID          string                `json:"series_id"`
	Record            models.ProgressRecord `json:"record"`
	Applied           bool                  `json:"applied"`
	Skipped           bool                  `json:"skipped"`
	SyncedAtMs        int64                 `json:"synced_at_ms"`
	NextSyncInSeconds int32                 `json:"next_sync_in_seconds"`
}

type GetUnifiedRequest struct {
	UserID   string `json:"user_id"`
	SeriesID string `json:"series_id"`
}

// GetUnifiedResponse has a nil Unified when the series has no progress.
type GetUnifiedResponse struct {
	Unified *models.UnifiedProgress `json:"unified"`
}

type SelectResumeRequest struct {
	UserID   string `json:"user_id"`
	SeriesID string `json:"series_id"`
	Platform string `json:"platform"`
}

type SelectResumeResponse struct {
	Selection resume.Selection `json:"selection"`
}

type ListSeriesRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"offset"`
}

type ListSeriesResponse struct {
	Total  int32                 `json:"total"`
	Limit  int32                 `json:"limit"`
	Offset int32                 `json:"offset"`
	Items  []models.SeriesRecord `json:"items"`
}

type WatchRequest struct {
	UserID string `json:"user_id"`
}

type ProgressServiceServer interface {
	Ingest(ctx context.Context, in *IngestRequest) (*IngestResponse, error)
	GetUnified(ctx context.Context, in *GetUnifiedRequest) (*GetUnifiedResponse, error)
	SelectResume(ctx context.Context, in *SelectResumeRequest) (*SelectResumeResponse, error)
	ListSeries(ctx context.Context, in *ListSeriesRequest) (*ListSeriesResponse, error)
	Watch(in *WatchRequest, stream WatchStream) error
}

// WatchStream is the server side of Watch.
type WatchStream interface {
	Context() context.Context
	Send(ev *sync.ChangeEvent) error
}

type watchStream struct {
	grpc.ServerStream
}

func (s watchStream) Send(ev *sync.ChangeEvent) error { return s.ServerStream.SendMsg(ev) }

type ProgressServiceClient interface {
	Ingest(ctx context.Context, in *IngestRequest) (*IngestResponse, error)
	GetUnified(ctx context.Context, in *GetUnifiedRequest) (*GetUnifiedResponse, error)
	SelectResume(ctx context.Context, in *SelectResumeRequest) (*SelectResumeResponse, error)
	ListSeries(ctx context.Context, in *ListSeriesRequest) (*ListSeriesResponse, error)
	Watch(ctx context.Context, in *WatchRequest) (WatchClient, error)
}

type WatchClient interface {
	Recv() (*sync.ChangeEvent, error)
}

type progressServiceClient struct {
	conn *grpc.ClientConn
}

func NewProgressServiceClient(conn *grpc.ClientConn) ProgressServiceClient {
	return &progressServiceClient{conn: conn}
}

func (c *progressServiceClient) Ingest(ctx context.Context, in *IngestRequest) (*IngestResponse, error) {
	out := &IngestResponse{}
	if err := c.conn.Invoke(ctx, methodIngest, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) GetUnified(ctx context.Context, in *GetUnifiedRequest) (*GetUnifiedResponse, error) {
	out := &GetUnifiedResponse{}
	if err := c.conn.Invoke(ctx, methodGetUnified, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) SelectResume(ctx context.Context, in *SelectResumeRequest) (*SelectResumeResponse, error) {
	out := &SelectResumeResponse{}
	if err := c.conn.Invoke(ctx, methodSelectResume, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) ListSeries(ctx context.Context, in *ListSeriesRequest) (*ListSeriesResponse, error) {
	out := &ListSeriesResponse{}
	if err := c.conn.Invoke(ctx, methodListSeries, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

var watchStreamDesc = grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}

func (c *progressServiceClient) Watch(ctx context.Context, in *WatchRequest) (WatchClient, error) {
	stream, err := c.conn.NewStream(ctx, &watchStreamDesc, methodWatch, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return watchClient{stream}, nil
}

type watchClient struct {
	grpc.ClientStream
}

func (w watchClient) Recv() (*sync.ChangeEvent, error) {
	ev := &sync.ChangeEvent{}
	if err := w.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// unary adapts one typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](fullMethod string, call func(ProgressServiceServer, context.Context, *Req) (*Resp, error), impl ProgressServiceServer) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			r, ok := req.(*Req)
			if !ok {
				return nil, fmt.Errorf("invalid request type")
			}
			return call(impl, ctx, r)
		}
		return interceptor(ctx, in, info, handler)
	}
}

func RegisterProgressServiceServer(server grpc.ServiceRegistrar, impl ProgressServiceServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ProgressServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Ingest", Handler: unary(methodIngest, ProgressServiceServer.Ingest, impl)},
			{MethodName: "GetUnified", Handler: unary(methodGetUnified, ProgressServiceServer.GetUnified, impl)},
			{MethodName: "SelectResume", Handler: unary(methodSelectResume, ProgressServiceServer.SelectResume, impl)},
			{MethodName: "ListSeries", Handler: unary(methodListSeries, ProgressServiceServer.ListSeries, impl)},
		},
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Watch",
				ServerStreams: true,
				Handler: func(srv any, stream grpc.ServerStream) error {
					in := &WatchRequest{}
					if err := stream.RecvMsg(in); err != nil {
						return err
					}
					return impl.Watch(in, watchStream{stream})
				},
			},
		},
		Metadata: "progress.proto",
	}, impl)
}
