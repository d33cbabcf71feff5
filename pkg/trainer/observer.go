package trainer

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Observer 训练进度回调，只用于展示进度，不影响训练结果
// 交叉验证各折并发执行，实现必须是并发安全的
type Observer interface {
	OnFoldStart(fold, total int)
	OnFoldEnd(fold, total int, score float64)
	OnFitStart(samples int)
	OnFitEnd(samples int, elapsed time.Duration)
}

// NopObserver 空实现，可嵌入到只关心部分回调的实现中
type NopObserver struct{}

func (NopObserver) OnFoldStart(int, int) {}
func (NopObserver) OnFoldEnd(int, int, float64) {}
func (NopObserver) OnFitStart(int) {}
func (NopObserver) OnFitEnd(int, time.Duration) {}

// LogObserver 将检查点写入日志
type LogObserver struct{}

func (LogObserver) OnFoldStart(fold, total int) {
	logrus.Debugf("交叉验证第 %d/%d 折开始", fold, total)
}

func (LogObserver) OnFoldEnd(fold, total int, score float64) {
	logrus.WithField("score", score).Infof("交叉验证第 %d/%d 折完成", fold, total)
}

func (LogObserver) OnFitStart(samples int) {
	logrus.Infof("开始训练最终模型，样本数: %d", samples)
}

func (LogObserver) OnFitEnd(samples int, elapsed time.Duration) {
	logrus.WithField("elapsed", elapsed).Infof("最终模型训练完成，样本数: %d", samples)
}

// multiObserver 依次转发给多个观察者
type multiObserver []Observer

func (m multiObserver) OnFoldStart(fold, total int) {
	for _, o := range m {
		o.OnFoldStart(fold, total)
	}
}

func (m multiObserver) OnFoldEnd(fold, total int, score float64) {
	for _, o := range m {
		o.OnFoldEnd(fold, total, score)
	}
}

func (m multiObserver) OnFitStart(samples int) {
	for _, o := range m {
		o.OnFitStart(samples)
	}
}

func (m multiObserver) OnFitEnd(samples int, elapsed time.Duration) {
	for _, o := range m {
		o.OnFitEnd(samples, elapsed)
	}
}
