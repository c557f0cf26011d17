/*
Package circuitbreaker 提供按依赖服务划分的熔断器及其注册表。

状态机：

	CLOSED    --失败次数达到 FailureThreshold-->  OPEN
	OPEN      --now >= nextAttemptTime 的下一次调用-->  HALF_OPEN
	HALF_OPEN --任意一次失败-->  OPEN
	HALF_OPEN --成功次数达到 SuccessThreshold-->  CLOSED

OPEN 状态下调用会立即返回 *OpenError（errors.Is(err, ErrCircuitOpen) 为真），
被包装的操作不会执行。Registry 为每个服务名惰性创建并复用一个 Breaker。
*/
package circuitbreaker
