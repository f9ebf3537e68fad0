package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供一次拦截请求的分类结果字段，供 worker 与网关日志复用。
func FetchFields(method, url, strategy, bucket string) logrus.Fields {
	return logrus.Fields{
		"method":   method,
		"url":      url,
		"strategy": strategy,
		"bucket":   bucket,
	}
}

// BucketFields 描述 bucket 生命周期事件（安装、回收）。
func BucketFields(action, bucket, version string) logrus.Fields {
	return logrus.Fields{
		"action":        action,
		"bucket":        bucket,
		"cache_version": version,
	}
}
