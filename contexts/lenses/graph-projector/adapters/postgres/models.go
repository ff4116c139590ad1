package postgresadapter

import "time"

type nodeModel struct {
	WorldID   string    `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch    string    `gorm:"column:branch;primaryKey"`
	NodeID    string    `gorm:"column:node_id;primaryKey"`
	Label     string    `gorm:"column:label"`
	Title     string    `gorm:"column:title"`
	Deleted   bool      `gorm:"column:deleted"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (nodeModel) TableName() string { return "lens_graph_nodes" }

type edgeModel struct {
	WorldID  string `gorm:"column:world_id;type:uuid;primaryKey"`
	Branch   string `gorm:"column:branch;primaryKey"`
	SrcID    string `gorm:"column:src_id;primaryKey"`
	DstID    string `gorm:"column:dst_id;primaryKey"`
	EdgeType string `gorm:"column:edge_type;primaryKey"`
	Rel      string `gorm:"column:rel;primaryKey"`
}

func (edgeModel) TableName() string { return "lens_graph_edges" }
