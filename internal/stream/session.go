package stream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// デフォルトの配信間隔
const (
	DefaultFrameInterval = 33 * time.Millisecond
	DefaultErrorBackoff  = time.Second
)

// エラーパートの本文
const (
	unavailableMessage = "Camera not available"
	errorPrefix        = "Camera error: "
)

// FrameSource はフレームの取得元
// CaptureFrame は内部で排他区間を取得する
type FrameSource interface {
	Available() bool
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Options はセッションの設定
type Options struct {
	FrameInterval time.Duration // フレーム送出の間隔。前回の送出開始から数える
	ErrorBackoff  time.Duration // エラーパート送出後の待ち時間
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.FrameInterval <= 0 {
		o.FrameInterval = DefaultFrameInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats はセッションの送出数
type Stats struct {
	Frames int64
	Errors int64
}

// Session は1クライアント分のマルチパート配信
// 待機は排他区間の外で行い、区間はフレーム取得の間だけ保持される
type Session struct {
	id     string
	source FrameSource
	opts   Options
	logger *zap.Logger

	errorOnly bool
	next      time.Time
	started   time.Time
	stats     Stats
}

// NewSession は新しいセッションを作成する
// 開始時点でデバイスが利用不可なら、以後はエラーパートだけを送出する
func NewSession(source FrameSource, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()

	return &Session{
		id:        id,
		source:    source,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("session", id)),
		errorOnly: !source.Available(),
		started:   time.Now(),
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// ErrorOnly はエラーパートのみを送出するセッションかどうかを返す
func (s *Session) ErrorOnly() bool {
	return s.errorOnly
}

// Stats は送出数を返す
func (s *Session) Stats() Stats {
	return s.stats
}

// Next は次のパートを返す
// 前回のパートに応じた待ち時間が経過するまでブロックする。ctx が終了したら ctx.Err() を返す
func (s *Session) Next(ctx context.Context) (Part, error) {
	if err := sleepUntil(ctx, s.next); err != nil {
		return Part{}, err
	}

	if s.errorOnly {
		s.next = time.Now().Add(s.opts.ErrorBackoff)
		s.stats.Errors++
		return TextPart(unavailableMessage), nil
	}

	start := time.Now()
	frame, err := s.source.CaptureFrame(ctx)
	if err != nil {
		// 区間の待機中にクライアントが切断した
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Part{}, ctxErr
		}

		s.next = time.Now().Add(s.opts.ErrorBackoff)
		s.stats.Errors++
		s.logger.Debug("フレームの取得に失敗", zap.Error(err))
		return TextPart(errorPrefix + err.Error()), nil
	}

	s.next = start.Add(s.opts.FrameInterval)
	s.stats.Frames++
	return JPEGPart(frame), nil
}

// Run はクライアントが切断するか書き込みに失敗するまでパートを送出し続ける
// ctx の終了による停止はエラーとしない
func (s *Session) Run(ctx context.Context, w PartWriter) error {
	s.logger.Info("ストリームを開始しました", zap.Bool("error_only", s.errorOnly))
	defer func() {
		s.logger.Info("ストリームを終了しました",
			zap.Int64("frames", s.stats.Frames),
			zap.Int64("errors", s.stats.Errors),
			zap.Duration("duration", time.Since(s.started)),
		)
	}()

	for {
		part, err := s.Next(ctx)
		if err != nil {
			return nil
		}
		if err := w.WritePart(part); err != nil {
			s.logger.Debug("パートの書き込みに失敗", zap.Error(err))
			return err
		}
	}
}

// sleepUntil は deadline まで待つ。ゼロ値や過去の時刻なら待たない
func sleepUntil(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := time.Until(deadline)
	if deadline.IsZero() || wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
