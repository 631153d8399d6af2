package id

import (
	"strconv"

	"github.com/sony/sonyflake"
)

// Generator hands out sortable unique IDs for messages and jobs.
type Generator struct {
	sf *sonyflake.Sonyflake
}

func NewGenerator() *Generator {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{})
	if sf == nil {
		// hosts without a private IP (containers) get a fixed machine id
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			MachineID: func() (uint16, error) { return 1, nil },
		})
	}
	return &Generator{sf: sf}
}

func (g *Generator) NextID() (int64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, err
	}
	return int64(id), nil
}

// NextStringID is used for job ids, which travel through redis as strings.
func (g *Generator) NextStringID() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}
