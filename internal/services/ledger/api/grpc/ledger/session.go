package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// envelopeStream is the half of a bidi stream both sides share.
type envelopeStream interface {
	Send(*ledgerv1.Envelope) error
	Recv() (*ledgerv1.Envelope, error)
}

type received struct {
	env *ledgerv1.Envelope
}

// streamSession adapts a gRPC stream to flow.Session. A reader goroutine
// feeds Recv so that receives honor their context.
type streamSession struct {
	stream  envelopeStream
	closeFn func()

	inbox    chan received
	readDone chan struct{}
	readErr  error
	done     chan struct{}
	once     sync.Once
	sendMu   sync.Mutex

	mu    sync.Mutex
	party record.PartyID
}

func newStreamSession(party record.PartyID, stream envelopeStream, closeFn func()) *streamSession {
	s := &streamSession{
		stream:   stream,
		closeFn:  closeFn,
		inbox:    make(chan received, 1),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		party:    party,
	}
	go s.read()
	return s
}

func (s *streamSession) read() {
	defer close(s.readDone)
	for {
		env, err := s.stream.Recv()
		if err != nil {
			s.readErr = err
			return
		}
		select {
		case s.inbox <- received{env: env}:
		case <-s.done:
			return
		}
	}
}

// Party returns the counterparty. Server-side sessions learn it from the
// first envelope.
func (s *streamSession) Party() record.PartyID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party
}

func (s *streamSession) Send(ctx context.Context, msg flow.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return flow.ErrSessionClosed
	default:
	}
	env, err := envelopeFromMessage(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.stream.Send(env); err != nil {
		return streamError(err)
	}
	return nil
}

func (s *streamSession) Recv(ctx context.Context) (flow.Message, error) {
	select {
	case got := <-s.inbox:
		return s.accept(got.env)
	default:
	}
	select {
	case got := <-s.inbox:
		return s.accept(got.env)
	case <-s.readDone:
		// The reader may have queued a message just before stopping.
		select {
		case got := <-s.inbox:
			return s.accept(got.env)
		default:
		}
		return flow.Message{}, streamError(s.readErr)
	case <-s.done:
		return flow.Message{}, flow.ErrSessionClosed
	case <-ctx.Done():
		return flow.Message{}, ctx.Err()
	}
}

func (s *streamSession) accept(env *ledgerv1.Envelope) (flow.Message, error) {
	msg, err := messageFromEnvelope(env)
	if err != nil {
		return flow.Message{}, err
	}
	s.mu.Lock()
	if s.party == "" {
		s.party = msg.From
	}
	s.mu.Unlock()
	return msg, nil
}

func (s *streamSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.closeFn()
		}
	})
	return nil
}

// streamError maps stream termination onto session errors.
func streamError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return flow.ErrSessionClosed
	}
	if status.Code(err) == codes.Canceled {
		return flow.ErrSessionClosed
	}
	return apperrors.FromGRPC(err)
}

// Transport opens signing sessions to peers listed in a directory. Client
// connections are created lazily and reused.
type Transport struct {
	directory   *identity.Directory
	dialOptions []grpc.DialOption

	mu    sync.Mutex
	conns map[record.PartyID]*grpc.ClientConn
}

var _ flow.Transport = (*Transport)(nil)

// NewTransport returns a transport for the peers in directory.
func NewTransport(directory *identity.Directory, opts ...grpc.DialOption) *Transport {
	return &Transport{
		directory:   directory,
		dialOptions: opts,
		conns:       make(map[record.PartyID]*grpc.ClientConn),
	}
}

// Open starts a SessionService.Exchange stream with party. The stream lives
// until the session is closed or ctx ends.
func (t *Transport) Open(ctx context.Context, party record.PartyID) (flow.Session, error) {
	conn, err := t.conn(party)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := ledgerv1.NewSessionServiceClient(conn).Exchange(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open session with %s: %w", party, apperrors.FromGRPC(err))
	}
	return newStreamSession(party, stream, func() {
		_ = stream.CloseSend()
		cancel()
	}), nil
}

func (t *Transport) conn(party record.PartyID) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[party]; ok {
		return conn, nil
	}
	if t.directory == nil {
		return nil, errors.New("peer directory is not configured")
	}
	peer, err := t.directory.Peer(party)
	if err != nil {
		return nil, err
	}
	conn, err := platformgrpc.NewLazyClient(peer.Address, t.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", party, err)
	}
	t.conns[party] = conn
	return conn, nil
}

// Close closes every peer connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for party, conn := range t.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", party, err))
		}
		delete(t.conns, party)
	}
	return errors.Join(errs...)
}

// SessionResponder serves one inbound session.
type SessionResponder interface {
	Serve(ctx context.Context, sess flow.Session) error
}

// SessionServer exposes ledger.v1.SessionService.
type SessionServer struct {
	ledgerv1.UnimplementedSessionServiceServer
	responder SessionResponder
}

// NewSessionServer creates a session server answering with responder.
func NewSessionServer(responder SessionResponder) *SessionServer {
	return &SessionServer{responder: responder}
}

// Exchange runs one signing session opened by a peer.
func (s *SessionServer) Exchange(stream grpc.BidiStreamingServer[ledgerv1.Envelope, ledgerv1.Envelope]) error {
	if s == nil || s.responder == nil {
		return status.Error(codes.Internal, "session responder is not configured")
	}
	sess := newStreamSession("", stream, nil)
	defer sess.Close()

	ctx := stream.Context()
	if err := s.responder.Serve(ctx, sess); err != nil {
		if errors.Is(err, flow.ErrSessionClosed) || ctx.Err() != nil {
			return nil
		}
		return apperrors.ToGRPC(err)
	}
	return nil
}
