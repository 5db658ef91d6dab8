package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

const (
	opusFrameMillis  = 20
	opusMaxPacket    = 4000 // OPUS最大包大小
	opusMaxFrameSize = 5760 // OPUS最大帧大小（每通道）
	opusClockRate    = 48000
	opusPayloadType  = 111
)

// OpusDecoder OPUS音频解码器
type OpusDecoder struct {
	decoder    *opus.Decoder
	sampleRate int
	channels   int
	logger     *slog.Logger
}

// NewOpusDecoder 创建新的OPUS解码器
func NewOpusDecoder(sampleRate, channels int, logger *slog.Logger) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpusDecoder{
		decoder:    dec,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
	}, nil
}

// Decode 解码OPUS音频数据
func (d *OpusDecoder) Decode(opusData []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, errors.New("decoder not initialized")
	}

	pcm := make([]int16, opusMaxFrameSize*d.channels)

	n, err := d.decoder.Decode(opusData, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	return pcm[:n*d.channels], nil
}

// DecodeBytes 解码为 16 位小端交错 PCM 字节
func (d *OpusDecoder) DecodeBytes(opusData []byte) ([]byte, error) {
	pcm, err := d.Decode(opusData)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(pcm)*2)
	int16ToBytes(out, pcm)
	return out, nil
}

// Close 释放解码器资源
func (d *OpusDecoder) Close() {
	if d.decoder != nil {
		d.decoder = nil
	}
}

// OpusEncoder 录制链上的流式编码阶段，输出 Ogg Opus 文件
// 输入按 20ms 切帧，不足一帧的部分留在 carry 中等下次 Feed
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    StreamFormat
	frameSize int // 每通道样本数
	carry     []byte
	packet    []byte
	floats    []float32

	writer    *oggwriter.OggWriter
	seq       uint16
	timestamp uint32
	ssrc      uint32
	finished  bool

	logger *slog.Logger
}

var _ Encoder = (*OpusEncoder)(nil)

// NewOpusEncoder 创建新的OPUS编码器，编码结果写入 path
func NewOpusEncoder(path string, format StreamFormat, bitrate int, logger *slog.Logger) (*OpusEncoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateOpusFormat(format); err != nil {
		return nil, err
	}

	sampleRate := int(format.SampleRate)
	enc, err := opus.NewEncoder(sampleRate, int(format.Channels), opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set bitrate: %w", err)
		}
	}

	writer, err := oggwriter.New(path, uint32(sampleRate), uint16(format.Channels))
	if err != nil {
		return nil, ioErr("create", path, err)
	}

	frameSize := sampleRate * opusFrameMillis / 1000
	return &OpusEncoder{
		encoder:   enc,
		format:    format,
		frameSize: frameSize,
		packet:    make([]byte, opusMaxPacket),
		floats:    make([]float32, frameSize*int(format.Channels)),
		writer:    writer,
		ssrc:      rand.Uint32(),
		logger:    logger,
	}, nil
}

func validateOpusFormat(f StreamFormat) error {
	if err := f.Validate(); err != nil {
		return err
	}
	switch int(f.SampleRate) {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return &FormatError{Format: f, Reason: "opus sample rate must be 8/12/16/24/48 kHz"}
	}
	if float64(int(f.SampleRate)) != f.SampleRate {
		return &FormatError{Format: f, Reason: "fractional sample rate"}
	}
	if f.Channels > 2 {
		return &FormatError{Format: f, Reason: "opus supports mono or stereo"}
	}
	if f.BitsPerSample == 24 {
		return &FormatError{Format: f, Reason: "opus input must be 16-bit integer or 32-bit float"}
	}
	return nil
}

func (e *OpusEncoder) frameBytes() int {
	return e.frameSize * e.format.BytesPerFrame()
}

// Feed 追加 PCM 数据，凑满的帧立即编码写出
func (e *OpusEncoder) Feed(data []byte) error {
	if e.finished {
		return ErrClosed
	}
	if !e.format.Interleaved && e.format.Channels > 1 {
		data = Interleaved(e.format, e.format.Chunk(data, e.format.FramesIn(len(data))))
	}
	e.carry = append(e.carry, data...)

	fb := e.frameBytes()
	consumed := 0
	for len(e.carry)-consumed >= fb {
		if err := e.encodeFrame(e.carry[consumed : consumed+fb]); err != nil {
			e.carry = e.carry[:copy(e.carry, e.carry[consumed+fb:])]
			return err
		}
		consumed += fb
	}
	e.carry = e.carry[:copy(e.carry, e.carry[consumed:])]
	return nil
}

func (e *OpusEncoder) encodeFrame(frame []byte) error {
	var (
		n   int
		err error
	)
	if e.format.BitsPerSample == 16 {
		n, err = e.encoder.Encode(bytesToInt16(frame), e.packet)
	} else {
		DecodeSamples(e.floats, frame, 32)
		n, err = e.encoder.EncodeFloat32(e.floats, e.packet)
	}
	if err != nil {
		return fmt.Errorf("opus encode failed: %w", err)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: e.packet[:n],
	}
	e.seq++
	e.timestamp += uint32(e.frameSize * opusClockRate / int(e.format.SampleRate))

	if err := e.writer.WriteRTP(pkt); err != nil {
		return ioErr("write", "ogg", err)
	}
	return nil
}

// Finish 补零编码最后不足一帧的数据并关闭文件，可重复调用
func (e *OpusEncoder) Finish() error {
	if e.finished {
		return nil
	}
	e.finished = true

	var err error
	if len(e.carry) > 0 {
		frame := make([]byte, e.frameBytes())
		copy(frame, e.carry)
		e.carry = e.carry[:0]
		err = e.encodeFrame(frame)
	}
	if cerr := e.writer.Close(); cerr != nil && err == nil {
		err = ioErr("close", "ogg", cerr)
	}
	e.logger.Debug("opus encoder finished", "packets", e.seq)
	return err
}
