package model

import "mime/multipart"

// ReportParseRequest 报告字段解析请求
// file_path 与 file_id 二选一
type ReportParseRequest struct {
	FilePath string `form:"file_path" binding:"required_without=FileID"` // 服务器本地路径
	FileID   string `form:"file_id" binding:"omitempty,uuid"`            // 已上传文件的ID
}

// ReportCheckRequest 合规检查请求
type ReportCheckRequest struct {
	FilePath string `json:"file_path" binding:"required_without=FileID"`    // 服务器本地路径
	FileID   string `json:"file_id" binding:"omitempty,uuid"`               // 已上传文件的ID
	Rules    string `json:"rules"`                                          // 规则集，为空时使用默认规则
	Provider string `json:"provider"`                                       // 提供方，为空时使用默认提供方
	Format   string `json:"format" binding:"omitempty,oneof=markdown html"` // 报告格式
	NoCache  bool   `json:"no_cache"`                                       // 跳过缓存
}

// ReportUploadRequest 报告上传请求
type ReportUploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // 文件对象
}
