package app

import (
	"encoding/json"
	"fmt"
	"strconv"

	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/store"
)

// Field layout. Hot counters (boss HP, hearts, submit counts) and the fields
// conditional writes key on (status, state) live as dedicated record fields;
// everything else rides in a single JSON "data" field. Decoders merge the
// dedicated fields back into the struct so they stay authoritative.
const (
	fieldData   = "data"
	fieldStatus = "status"
	fieldBossHP = "boss_hp"
	fieldState  = "state"
	fieldHearts = "hearts"
	fieldDowned = "downed"
	fieldRefID  = "ref_id"
)

func encodeBattle(b *domain.Battle) (store.Record, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode battle: %w", err)
	}
	return store.Record{
		PK: battlePK(b.ID),
		SK: battleStateSK,
		Fields: map[string]string{
			fieldData:   string(data),
			fieldStatus: string(b.Status),
			fieldBossHP: strconv.Itoa(b.CurrentBossHP),
		},
	}, nil
}

// battleData returns just the JSON field, for conditional updates that pair
// it with a status compare-and-set.
func battleData(b *domain.Battle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode battle: %w", err)
	}
	return string(data), nil
}

func decodeBattle(rec store.Record) (*domain.Battle, error) {
	var b domain.Battle
	if err := json.Unmarshal([]byte(rec.Fields[fieldData]), &b); err != nil {
		return nil, fmt.Errorf("decode battle: %w", err)
	}
	if s := rec.Fields[fieldStatus]; s != "" {
		b.Status = domain.BattleStatus(s)
	}
	if hp, err := strconv.Atoi(rec.Fields[fieldBossHP]); err == nil {
		b.CurrentBossHP = hp
	}
	return &b, nil
}

func encodeParticipant(p *domain.Participant) (store.Record, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode participant: %w", err)
	}
	return store.Record{
		PK: participantPK(p.BattleID),
		SK: participantSK(p.StudentID),
		Fields: map[string]string{
			fieldData:   string(data),
			fieldState:  string(p.State),
			fieldHearts: strconv.Itoa(p.Hearts),
			fieldDowned: strconv.FormatBool(p.IsDowned),
		},
	}, nil
}

func decodeParticipant(rec store.Record) (*domain.Participant, error) {
	var p domain.Participant
	if err := json.Unmarshal([]byte(rec.Fields[fieldData]), &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	if s := rec.Fields[fieldState]; s != "" {
		p.State = domain.ParticipantState(s)
	}
	if hearts, err := strconv.Atoi(rec.Fields[fieldHearts]); err == nil {
		p.Hearts = hearts
	}
	if downed, err := strconv.ParseBool(rec.Fields[fieldDowned]); err == nil {
		p.IsDowned = downed
	}
	return &p, nil
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(data), nil
}

func encodeJSONRecord(pk, sk string, v interface{}) (store.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode record %s/%s: %w", pk, sk, err)
	}
	return store.Record{PK: pk, SK: sk, Fields: map[string]string{fieldData: string(data)}}, nil
}

func decodeJSONRecord(rec store.Record, v interface{}) error {
	if err := json.Unmarshal([]byte(rec.Fields[fieldData]), v); err != nil {
		return fmt.Errorf("decode record %s/%s: %w", rec.PK, rec.SK, err)
	}
	return nil
}
