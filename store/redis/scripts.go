package redis

import goredis "github.com/redis/go-redis/v9"

// putScript inserts a job hash unless the key exists and indexes it.
//
//	KEYS: hash, creation zset, status zset, priority zset
//	ARGV: id, score, field/value pairs...
var putScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
return 1
`)

// casScript moves a job from one status to another and writes the update
// fields. It replies {0} when the job is missing, {1, current} on a status
// mismatch and {2, HGETALL} on success. The status index keeps the
// creation score.
//
//	KEYS: job hash, expected status zset, next status zset, creation zset
//	ARGV: job id, expected status, field/value pairs...
var casScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
	return {0}
end
if cur ~= ARGV[2] then
	return {1, cur}
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
if KEYS[2] ~= KEYS[3] then
	local score = redis.call('ZSCORE', KEYS[4], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	redis.call('ZADD', KEYS[3], score, ARGV[1])
end
return {2, redis.call('HGETALL', KEYS[1])}
`)

// createDeliveryScript inserts a delivery unless it exists.
//
//	KEYS: delivery hash, creation zset, job zset, due zset, status zset
//	ARGV: id, created score, due score or "", field/value pairs...
var createDeliveryScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[5], ARGV[2], ARGV[1])
if ARGV[3] ~= '' then
	redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
end
return 1
`)

// updateDeliveryScript overwrites an existing delivery and keeps the due
// and status indexes in step with its status.
//
//	KEYS: delivery hash, due zset, creation zset, next status zset, other status zsets...
//	ARGV: id, due score or "", field/value pairs...
var updateDeliveryScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
if ARGV[2] ~= '' then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
else
	redis.call('ZREM', KEYS[2], ARGV[1])
end
local score = redis.call('ZSCORE', KEYS[3], ARGV[1])
for i = 5, #KEYS do
	redis.call('ZREM', KEYS[i], ARGV[1])
end
redis.call('ZADD', KEYS[4], score, ARGV[1])
return 1
`)
