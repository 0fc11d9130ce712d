package mapper

import (
	"encoding/json"
	"fmt"
	"sync"

	"bioai-workspace-be/internal/entity"
	"bioai-workspace-be/internal/model"

	"github.com/klauspost/compress/zstd"
	"gorm.io/datatypes"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder
}

type SnapshotMapper struct{}

func NewSnapshotMapper() *SnapshotMapper {
	return &SnapshotMapper{}
}

// EncodeData serializes and compresses a snapshot payload. The returned size
// is the uncompressed JSON length.
func (m *SnapshotMapper) EncodeData(data *entity.SnapshotData) ([]byte, int64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal snapshot data: %w", err)
	}
	enc, _ := zstdCodec()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), int64(len(raw)), nil
}

func (m *SnapshotMapper) DecodeData(compressed []byte) (*entity.SnapshotData, error) {
	_, dec := zstdCodec()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot data: %w", err)
	}
	var data entity.SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot data: %w", err)
	}
	return &data, nil
}

func (m *SnapshotMapper) SnapshotToEntity(s *model.Snapshot) (*entity.Snapshot, error) {
	if s == nil {
		return nil, nil
	}

	var data *entity.SnapshotData
	if len(s.Data) > 0 {
		decoded, err := m.DecodeData(s.Data)
		if err != nil {
			return nil, err
		}
		data = decoded
	}

	return &entity.Snapshot{
		Id:            s.Id,
		UserId:        s.UserId,
		SessionId:     s.SessionId,
		SnapshotType:  entity.SnapshotType(s.SnapshotType),
		Timestamp:     s.Timestamp,
		Data:          data,
		Size:          s.Size,
		Description:   s.Description,
		Tags:          []string(s.Tags),
		IsRecoverable: s.IsRecoverable,
		ExpiresAt:     s.ExpiresAt,
	}, nil
}

func (m *SnapshotMapper) SnapshotToModel(s *entity.Snapshot) (*model.Snapshot, error) {
	if s == nil {
		return nil, nil
	}

	var compressed []byte
	size := s.Size
	if s.Data != nil {
		var err error
		compressed, size, err = m.EncodeData(s.Data)
		if err != nil {
			return nil, err
		}
	}

	return &model.Snapshot{
		Id:            s.Id,
		UserId:        s.UserId,
		SessionId:     s.SessionId,
		SnapshotType:  string(s.SnapshotType),
		Timestamp:     s.Timestamp,
		Data:          compressed,
		Size:          size,
		Description:   s.Description,
		Tags:          datatypes.JSONSlice[string](s.Tags),
		IsRecoverable: s.IsRecoverable,
		ExpiresAt:     s.ExpiresAt,
	}, nil
}
