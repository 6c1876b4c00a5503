// Package config 提供 evalflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量前缀默认为 EVALFLOW。
package config
